package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"pplxchat/internal/chat"
	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

// Runner executes one chat-completion task.
type Runner interface {
	Run(ctx context.Context, in chat.Input) (*core.CompletionResult, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers
type Handler struct {
	runner        Runner
	reader        usage.Reader
	defaultAPIKey string
	pinger        Pinger
}

// NewHandler creates a new handler. reader and pinger may be nil.
func NewHandler(runner Runner, reader usage.Reader, defaultAPIKey string, pinger Pinger) *Handler {
	return &Handler{
		runner:        runner,
		reader:        reader,
		defaultAPIKey: defaultAPIKey,
		pinger:        pinger,
	}
}

// ChatCompletion handles POST /v1/chat/completion
func (h *Handler) ChatCompletion(c echo.Context) error {
	var in chat.Input
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewConfigurationError("invalid request body: "+bindMessage(err), err))
	}
	if strings.TrimSpace(in.APIKey) == "" {
		in.APIKey = h.defaultAPIKey
	}

	result, err := h.runner.Run(c.Request().Context(), in)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// UsageSummary handles GET /v1/usage/summary
func (h *Handler) UsageSummary(c echo.Context) error {
	if h.reader == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("usage_disabled", "usage ledger is not enabled"))
	}

	params, err := usage.ParseQueryParams(c.QueryParam("since"), c.QueryParam("model"), time.Now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(string(core.ErrorTypeConfiguration), err.Error()))
	}

	summary, err := h.reader.Summary(c.Request().Context(), params)
	if err != nil {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "failed to read usage ledger"))
	}
	return c.JSON(http.StatusOK, summary)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"storage": err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func bindMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}

func errorBody(errType, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
}

// handleError converts task errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var taskErr *core.TaskError
	if errors.As(err, &taskErr) {
		return c.JSON(taskErr.HTTPStatusCode(), taskErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}
