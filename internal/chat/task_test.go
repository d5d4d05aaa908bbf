package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

type ledgerSpy struct {
	mu      sync.Mutex
	entries []*usage.UsageEntry
}

func (l *ledgerSpy) Write(entry *usage.UsageEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *ledgerSpy) Config() usage.Config { return usage.Config{Enabled: true} }

func (l *ledgerSpy) Close() error { return nil }

func (l *ledgerSpy) Entries() []*usage.UsageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*usage.UsageEntry(nil), l.entries...)
}

func TestTask_Run_Success(t *testing.T) {
	var gotAuth, gotContentType, gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(parisBody))
	}))
	defer server.Close()

	rec := &usage.Recorder{}
	ledger := &ledgerSpy{}
	task := NewTask(server.Client(), WithBaseURL(server.URL), WithSink(rec), WithLedger(ledger), WithSource("test"))

	ctx := core.WithRequestID(context.Background(), "req-123")
	result, err := task.Run(ctx, baseInput())
	require.NoError(t, err)

	assert.Equal(t, "Paris", result.OutputText)
	assert.Equal(t, parisBody, result.RawResponse)

	assert.Equal(t, "Bearer pplx-test", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "sonar", gotBody["model"])
	assert.NotContains(t, gotBody, "max_tokens")

	assert.Equal(t, map[string]int64{
		usage.CounterPromptTokens:     5,
		usage.CounterCompletionTokens: 1,
		usage.CounterTotalTokens:      6,
	}, rec.Totals())

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "req-123", entry.RequestID)
	assert.Equal(t, "resp-1", entry.ResponseID)
	assert.Equal(t, "sonar", entry.Model)
	assert.Equal(t, ProviderName, entry.Provider)
	assert.Equal(t, "test", entry.Source)
	assert.Equal(t, int64(5), entry.PromptTokens)
	assert.Equal(t, int64(1), entry.CompletionTokens)
	assert.Equal(t, int64(6), entry.TotalTokens)
}

func TestTask_Run_NoUsageNoLedgerEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	rec := &usage.Recorder{}
	ledger := &ledgerSpy{}
	task := NewTask(server.Client(), WithBaseURL(server.URL), WithSink(rec), WithLedger(ledger))

	result, err := task.Run(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "ok", result.OutputText)
	assert.Empty(t, rec.Samples())
	assert.Empty(t, ledger.Entries())
}

func TestTask_Run_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	rec := &usage.Recorder{}
	ledger := &ledgerSpy{}
	task := NewTask(server.Client(), WithBaseURL(server.URL), WithSink(rec), WithLedger(ledger))

	_, err := task.Run(context.Background(), baseInput())
	require.Error(t, err)

	var taskErr *core.TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, core.ErrorTypeProvider, taskErr.Type)
	assert.Equal(t, http.StatusUnauthorized, taskErr.StatusCode)
	assert.Equal(t, `{"error":"unauthorized"}`, taskErr.Body)
	assert.Contains(t, err.Error(), `{"error":"unauthorized"}`)
	assert.Empty(t, rec.Samples())
	assert.Empty(t, ledger.Entries())
}

func TestTask_Run_ShapeErrorEmitsNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`))
	}))
	defer server.Close()

	rec := &usage.Recorder{}
	task := NewTask(server.Client(), WithBaseURL(server.URL), WithSink(rec))

	_, err := task.Run(context.Background(), baseInput())
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeResponseShape))
	assert.Empty(t, rec.Samples())
}

func TestTask_Run_ConfigurationErrorsMakeNoCall(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"invalid schema", func(in *Input) { in.JSONResponseSchema = strPtr("{not json") }},
		{"missing api key", func(in *Input) { in.APIKey = "" }},
		{"blank model", func(in *Input) { in.Model = "  " }},
		{"no messages", func(in *Input) { in.Messages = nil }},
		{"temperature out of range", func(in *Input) { in.Temperature = floatPtr(9) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
			}))
			defer server.Close()

			task := NewTask(server.Client(), WithBaseURL(server.URL))
			in := baseInput()
			tt.mutate(&in)

			_, err := task.Run(context.Background(), in)
			require.Error(t, err)
			assert.True(t, core.IsType(err, core.ErrorTypeConfiguration), "got %v", err)
			assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
		})
	}
}

func TestTask_Run_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	task := NewTask(nil, WithBaseURL(url))
	_, err := task.Run(context.Background(), baseInput())
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeTransport))
}

func TestTask_Run_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	task := NewTask(server.Client(), WithBaseURL(server.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := task.Run(ctx, baseInput())
	require.Error(t, err)

	var taskErr *core.TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, core.ErrorTypeTransport, taskErr.Type)
	assert.Equal(t, http.StatusGatewayTimeout, taskErr.HTTPStatusCode())
}

func TestTask_Run_Concurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(parisBody))
	}))
	defer server.Close()

	rec := &usage.Recorder{}
	task := NewTask(server.Client(), WithBaseURL(server.URL), WithSink(rec))

	const calls = 8
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := task.Run(context.Background(), baseInput())
			assert.NoError(t, err)
			if result != nil {
				assert.Equal(t, "Paris", result.OutputText)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(6*calls), rec.Totals()[usage.CounterTotalTokens])
}
