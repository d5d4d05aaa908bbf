package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"pplxchat/internal/core"
	"pplxchat/internal/pkg/llmclient"
	"pplxchat/internal/usage"
)

// Task runs chat completions against the provider. It holds only immutable
// collaborators and is safe for concurrent use.
type Task struct {
	httpClient *http.Client
	baseURL    string
	sink       usage.Sink
	ledger     usage.LoggerInterface
	logger     *slog.Logger
	source     string
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithBaseURL overrides the provider base URL.
func WithBaseURL(baseURL string) TaskOption {
	return func(t *Task) {
		t.baseURL = baseURL
	}
}

// WithSink sets the destination for usage counters.
func WithSink(sink usage.Sink) TaskOption {
	return func(t *Task) {
		if sink != nil {
			t.sink = sink
		}
	}
}

// WithLedger sets the usage ledger that receives one entry per successful call.
func WithLedger(ledger usage.LoggerInterface) TaskOption {
	return func(t *Task) {
		if ledger != nil {
			t.ledger = ledger
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) TaskOption {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSource labels ledger entries with the surface that ran the task ("cli", "server").
func WithSource(source string) TaskOption {
	return func(t *Task) {
		t.source = source
	}
}

// NewTask creates a Task. A nil httpClient makes every call acquire its own
// pooled client and release it when the call returns.
func NewTask(httpClient *http.Client, opts ...TaskOption) *Task {
	t := &Task{
		httpClient: httpClient,
		baseURL:    llmclient.DefaultBaseURL,
		sink:       usage.NoopSink{},
		ledger:     &usage.NoopLogger{},
		logger:     slog.Default(),
		source:     "cli",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run performs one chat completion. Configuration problems are reported before
// any network traffic. The call is made exactly once.
func (t *Task) Run(ctx context.Context, in Input) (*core.CompletionResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	req, err := BuildRequest(in)
	if err != nil {
		return nil, err
	}
	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, requestID := core.EnsureRequestID(ctx)
	log := t.logger.With(
		"request_id", requestID,
		"model", req.Model,
		"messages", len(req.Messages),
	)

	client := t.newClient(in.APIKey)
	defer func() {
		_ = client.Close()
	}()

	start := time.Now()
	log.Debug("chat completion started", "stream", req.Stream, "structured_output", req.ResponseFormat != nil)

	resp, err := client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: llmclient.ChatCompletionsEndpoint,
		Body:     body,
	})
	if err != nil {
		logFailure(log, err, time.Since(start))
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := core.NewProviderError(ProviderName, resp.StatusCode, string(resp.Body))
		logFailure(log, err, time.Since(start))
		return nil, err
	}

	result, counters, err := Extract(string(resp.Body), t.sink)
	if err != nil {
		logFailure(log, err, time.Since(start))
		return nil, err
	}

	if counters != nil {
		t.ledger.Write(&usage.UsageEntry{
			ID:               uuid.NewString(),
			RequestID:        requestID,
			ResponseID:       gjson.Get(result.RawResponse, "id").String(),
			Timestamp:        time.Now().UTC(),
			Model:            req.Model,
			Provider:         ProviderName,
			Source:           t.source,
			PromptTokens:     counters.PromptTokens,
			CompletionTokens: counters.CompletionTokens,
			TotalTokens:      counters.TotalTokens,
		})
	}

	log.Info("chat completion finished",
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"output_chars", len(result.OutputText),
	)
	return result, nil
}

func (t *Task) newClient(apiKey string) *llmclient.Client {
	cfg := llmclient.DefaultConfig(ProviderName, t.baseURL)
	if t.httpClient == nil {
		return llmclient.New(cfg, llmclient.BearerAuth(apiKey))
	}
	return llmclient.NewWithHTTPClient(t.httpClient, cfg, llmclient.BearerAuth(apiKey))
}

func validateInput(in Input) error {
	if strings.TrimSpace(in.APIKey) == "" {
		return core.NewConfigurationError("api_key is required", nil)
	}
	if strings.TrimSpace(in.Model) == "" {
		return core.NewConfigurationError("model is required", nil)
	}
	if len(in.Messages) == 0 {
		return core.NewConfigurationError("messages must contain at least one message", nil)
	}
	return nil
}

func logFailure(log *slog.Logger, err error, elapsed time.Duration) {
	attrs := []any{"error", err, "duration", elapsed}
	var taskErr *core.TaskError
	if errors.As(err, &taskErr) {
		attrs = append(attrs, "error_type", string(taskErr.Type))
		if taskErr.StatusCode != 0 {
			attrs = append(attrs, "status", taskErr.StatusCode)
		}
	}
	log.Warn("chat completion failed", attrs...)
}
