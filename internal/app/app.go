// Package app wires configuration, logging, the usage ledger, metrics and the
// chat task into one unit with a single lifecycle, shared by every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pplxchat/config"
	"pplxchat/internal/chat"
	"pplxchat/internal/httpclient"
	"pplxchat/internal/server"
	"pplxchat/internal/storage"
	"pplxchat/internal/usage"
)

// Source values recorded in the usage ledger.
const (
	SourceCLI    = "cli"
	SourceServer = "server"
)

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "pplxchat"

// App represents the main application with all its dependencies.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	usage    *usage.Result
	task     *chat.Task
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.LoadResult

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Source is recorded on ledger entries. Defaults to SourceCLI.
	Source string

	// Sinks receive usage counters in addition to the Prometheus sink.
	Sinks []usage.Sink

	// HTTPClient overrides the outbound client built from AppConfig.HTTP.
	HTTPClient *http.Client
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := cfg.Source
	if source == "" {
		source = SourceCLI
	}

	app := &App{
		config: appCfg,
		logger: logger,
	}

	usageResult, err := usage.New(ctx, StorageConfig(appCfg), UsageConfig(appCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage tracking: %w", err)
	}
	app.usage = usageResult

	sinks := append([]usage.Sink{}, cfg.Sinks...)
	if appCfg.Metrics.Enabled {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		promSink, err := usage.NewPrometheusSink(app.registry, metricsNamespace)
		if err != nil {
			closeErr := app.usage.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("failed to register usage metrics: %w (also: usage close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to register usage metrics: %w", err)
		}
		sinks = append(sinks, promSink)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := httpclient.DefaultConfig().WithTimeouts(
			time.Duration(appCfg.HTTP.Timeout)*time.Second,
			time.Duration(appCfg.HTTP.ResponseHeaderTimeout)*time.Second,
		)
		httpClient = httpclient.NewHTTPClient(&clientCfg)
	}

	app.task = chat.NewTask(httpClient,
		chat.WithBaseURL(appCfg.Perplexity.BaseURL),
		chat.WithSink(sinkOf(sinks)),
		chat.WithLedger(usageResult.Logger),
		chat.WithLogger(logger),
		chat.WithSource(source),
	)

	serverCfg := &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		DefaultAPIKey:   appCfg.Perplexity.APIKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	}
	if app.registry != nil {
		serverCfg.MetricsHandler = promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
	}
	if usageResult.Storage != nil {
		serverCfg.Pinger = usageResult.Storage
	}
	app.server = server.New(app.task, usageResult.Reader, serverCfg)

	return app, nil
}

func sinkOf(sinks []usage.Sink) usage.Sink {
	switch len(sinks) {
	case 0:
		return usage.NoopSink{}
	case 1:
		return sinks[0]
	default:
		return usage.MultiSink(sinks)
	}
}

// StorageConfig maps the ledger database settings.
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type:       cfg.Storage.Type,
		SQLite:     storage.SQLiteConfig{Path: cfg.Storage.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.Storage.PostgreSQL.URL, MaxConns: cfg.Storage.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: cfg.Storage.MongoDB.URL, Database: cfg.Storage.MongoDB.Database},
		MySQL:      storage.MySQLConfig{DSN: cfg.Storage.MySQL.DSN, MaxOpenConns: cfg.Storage.MySQL.MaxOpenConns},
	}
}

// UsageConfig maps the ledger buffering and retention settings.
func UsageConfig(cfg *config.Config) usage.Config {
	return usage.Config{
		Enabled:       cfg.Usage.Enabled,
		BufferSize:    cfg.Usage.BufferSize,
		FlushInterval: time.Duration(cfg.Usage.FlushInterval) * time.Second,
		RetentionDays: cfg.Usage.RetentionDays,
		Events: usage.EventsConfig{
			Type:  cfg.Usage.Events.Type,
			URL:   cfg.Usage.Events.URL,
			Queue: cfg.Usage.Events.Queue,
		},
	}
}

// Task returns the chat task shared by the CLI and the server.
func (a *App) Task() *chat.Task {
	return a.task
}

// UsageReader returns the ledger reader, or nil when the ledger is disabled.
func (a *App) UsageReader() usage.Reader {
	if a.usage == nil {
		return nil
	}
	return a.usage.Reader
}

// Handler returns the HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logStartupInfo(addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, then flushes the usage ledger and closes
// its storage. It is idempotent; every step is attempted and failures are joined.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Error("usage ledger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (a *App) logStartupInfo(addr string) {
	cfg := a.config

	a.logger.Info("starting server", "address", addr, "base_url", cfg.Perplexity.BaseURL)

	if cfg.Server.MasterKey == "" {
		a.logger.Warn("PPLXCHAT_MASTER_KEY not set - task endpoints accept unauthenticated requests")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Perplexity.APIKey == "" {
		a.logger.Info("no default api key configured - requests must carry api_key")
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	if cfg.Usage.Enabled {
		a.logger.Info("usage ledger enabled",
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
		if cfg.Usage.Events.Type != "" {
			a.logger.Info("usage events enabled", "broker", cfg.Usage.Events.Type, "queue", cfg.Usage.Events.Queue)
		}
	} else {
		a.logger.Info("usage ledger disabled")
	}
}
