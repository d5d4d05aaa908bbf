// Package server exposes chat-completion tasks and the usage ledger over HTTP.
package server

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pplxchat/internal/usage"
)

// DefaultBodySizeLimit caps request bodies when Config.BodySizeLimit is unset.
const DefaultBodySizeLimit = "2M"

const defaultMetricsPath = "/metrics"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string       // Optional: bearer token required on API routes
	DefaultAPIKey   string       // Used when a task request carries no api_key
	MetricsEnabled  bool         // Whether to expose the Prometheus endpoint
	MetricsEndpoint string       // HTTP path for metrics (default: /metrics)
	MetricsHandler  http.Handler // Serves the metrics endpoint
	BodySizeLimit   string       // Max request body size, e.g. "2M"
	Pinger          Pinger       // Optional: checked by /health
}

// New creates a new HTTP server. reader may be nil when the usage ledger is disabled.
func New(runner Runner, reader usage.Reader, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(runner, reader, cfg.DefaultAPIKey, cfg.Pinger)

	authSkipPaths := []string{"/health"}
	metricsPath := resolveMetricsPath(cfg.MetricsEndpoint)
	metricsOn := cfg.MetricsEnabled && cfg.MetricsHandler != nil
	if metricsOn {
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	e.Use(RequestID())
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit != "" {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths...))
	}

	e.GET("/health", handler.Health)
	if metricsOn {
		e.GET(metricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}

	e.POST("/v1/chat/completion", handler.ChatCompletion)
	e.GET("/v1/usage/summary", handler.UsageSummary)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// resolveMetricsPath cleans the configured path. Paths that would shadow the
// API or the health check fall back to /metrics.
func resolveMetricsPath(endpoint string) string {
	if endpoint == "" {
		return defaultMetricsPath
	}
	p := path.Clean("/" + endpoint)
	if p == "/" || p == "/health" || p == "/v1" || strings.HasPrefix(p, "/v1/") {
		return defaultMetricsPath
	}
	return p
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
