package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pplxchat/internal/chat"
	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

// mockRunner implements Runner for testing
type mockRunner struct {
	mu        sync.Mutex
	result    *core.CompletionResult
	err       error
	inputs    []chat.Input
	requestID string
}

func (m *mockRunner) Run(ctx context.Context, in chat.Input) (*core.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	m.requestID = core.GetRequestID(ctx)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRunner) lastInput(t *testing.T) chat.Input {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.inputs)
	return m.inputs[len(m.inputs)-1]
}

type mockReader struct {
	summary *usage.Summary
	err     error
	params  usage.QueryParams
}

func (m *mockReader) Summary(_ context.Context, params usage.QueryParams) (*usage.Summary, error) {
	m.params = params
	return m.summary, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

const parisResponse = `{"id":"resp-1","choices":[{"message":{"content":"Paris"}}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`

func postChat(h *Handler, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completion", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.ChatCompletion(c)
	return rec
}

func TestChatCompletion(t *testing.T) {
	runner := &mockRunner{result: &core.CompletionResult{OutputText: "Paris", RawResponse: parisResponse}}
	h := NewHandler(runner, nil, "", nil)

	rec := postChat(h, `{
		"api_key": "pplx-test",
		"model": "sonar",
		"messages": [
			{"type": "system", "content": "Be precise."},
			{"type": "USER", "content": "Capital of France?"}
		],
		"temperature": 0.5,
		"max_tokens": 64
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Paris", body["output_text"])
	assert.JSONEq(t, parisResponse, body["raw_response"])

	in := runner.lastInput(t)
	assert.Equal(t, "pplx-test", in.APIKey)
	assert.Equal(t, "sonar", in.Model)
	require.Len(t, in.Messages, 2)
	assert.Equal(t, core.RoleSystem, in.Messages[0].Role)
	assert.Equal(t, core.RoleUser, in.Messages[1].Role)
	require.NotNil(t, in.Temperature)
	assert.Equal(t, 0.5, *in.Temperature)
	require.NotNil(t, in.MaxTokens)
	assert.Equal(t, 64, *in.MaxTokens)
	assert.Nil(t, in.TopP)
}

func TestChatCompletion_DefaultAPIKey(t *testing.T) {
	runner := &mockRunner{result: &core.CompletionResult{OutputText: "ok", RawResponse: "{}"}}
	h := NewHandler(runner, nil, "pplx-server", nil)

	rec := postChat(h, `{"model":"sonar","messages":[{"type":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pplx-server", runner.lastInput(t).APIKey)

	rec = postChat(h, `{"api_key":"pplx-own","model":"sonar","messages":[{"type":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pplx-own", runner.lastInput(t).APIKey)
}

func TestChatCompletion_InvalidBody(t *testing.T) {
	runner := &mockRunner{}
	h := NewHandler(runner, nil, "", nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"model":`},
		{"unknown role", `{"model":"sonar","messages":[{"type":"tool","content":"hi"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), string(core.ErrorTypeConfiguration))
		})
	}
	assert.Empty(t, runner.inputs, "runner must not be called for invalid bodies")
}

func TestChatCompletion_TaskErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   core.ErrorType
	}{
		{"configuration", core.NewConfigurationError("api_key is required", nil), http.StatusBadRequest, core.ErrorTypeConfiguration},
		{"provider unauthorized", core.NewProviderError("perplexity", 401, `{"error":"unauthorized"}`), http.StatusBadGateway, core.ErrorTypeProvider},
		{"provider rate limited", core.NewProviderError("perplexity", 429, ""), http.StatusTooManyRequests, core.ErrorTypeProvider},
		{"transport", core.NewTransportError("perplexity", "connection refused", errors.New("dial"), false), http.StatusBadGateway, core.ErrorTypeTransport},
		{"timeout", core.NewTransportError("perplexity", "deadline", context.DeadlineExceeded, true), http.StatusGatewayTimeout, core.ErrorTypeTransport},
		{"shape", core.NewResponseShapeError("perplexity", "choices missing", nil), http.StatusBadGateway, core.ErrorTypeResponseShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockRunner{err: tt.err}, nil, "k", nil)
			rec := postChat(h, `{"model":"sonar","messages":[{"type":"user","content":"hi"}]}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.wantType), body.Error.Type)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestChatCompletion_UnexpectedError(t *testing.T) {
	h := NewHandler(&mockRunner{err: errors.New("boom")}, nil, "k", nil)
	rec := postChat(h, `{"model":"sonar","messages":[{"type":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func getSummary(h *Handler, target string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.UsageSummary(c)
	return rec
}

func TestUsageSummary(t *testing.T) {
	reader := &mockReader{summary: &usage.Summary{
		Requests:    2,
		TotalTokens: 36,
		Models:      []usage.ModelUsage{{Model: "sonar", Requests: 2, TotalTokens: 36}},
	}}
	h := NewHandler(&mockRunner{}, reader, "", nil)

	rec := getSummary(h, "/v1/usage/summary?model=sonar&since=2026-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sonar", reader.params.Model)
	assert.Equal(t, 2026, reader.params.Since.Year())

	var summary usage.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(36), summary.TotalTokens)
	require.Len(t, summary.Models, 1)
}

func TestUsageSummary_Errors(t *testing.T) {
	t.Run("ledger disabled", func(t *testing.T) {
		rec := getSummary(NewHandler(&mockRunner{}, nil, "", nil), "/v1/usage/summary")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "usage_disabled")
	})

	t.Run("bad since", func(t *testing.T) {
		rec := getSummary(NewHandler(&mockRunner{}, &mockReader{}, "", nil), "/v1/usage/summary?since=yesterday")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("reader failure", func(t *testing.T) {
		reader := &mockReader{err: errors.New("database is locked")}
		rec := getSummary(NewHandler(&mockRunner{}, reader, "", nil), "/v1/usage/summary")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "locked")
	})
}

func TestHealth(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantBody   string
	}{
		{"no storage", nil, http.StatusOK, `{"status":"ok"}`},
		{"storage reachable", mockPinger{}, http.StatusOK, `{"status":"ok"}`},
		{"storage down", mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, `{"status":"degraded","storage":"connection refused"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockRunner{}, nil, "", tt.pinger)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			require.NoError(t, h.Health(e.NewContext(req, rec)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, chat.Input) (*core.CompletionResult, error) {
	panic("runner exploded")
}
