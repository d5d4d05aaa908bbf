package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

func metricsHandler(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	sink, err := usage.NewPrometheusSink(reg, "pplxchat")
	require.NoError(t, err)
	sink.Counter(usage.CounterPromptTokens, 5)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func serve(srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDMiddleware(t *testing.T) {
	runner := &mockRunner{result: &core.CompletionResult{OutputText: "ok", RawResponse: "{}"}}
	srv := New(runner, nil, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		rec := serve(srv, http.MethodGet, "/health", "", nil)
		got := rec.Header().Get(RequestIDHeader)
		assert.Len(t, got, 36, "expected a UUID, got %q", got)
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		rec := serve(srv, http.MethodPost, "/v1/chat/completion",
			`{"api_key":"k","model":"sonar","messages":[{"type":"user","content":"hi"}]}`,
			map[string]string{RequestIDHeader: "my-custom-id"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "my-custom-id", rec.Header().Get(RequestIDHeader))
		assert.Equal(t, "my-custom-id", runner.requestID, "request ID reaches the task context")
	})

	t.Run("replaces malformed request ID", func(t *testing.T) {
		rec := serve(srv, http.MethodGet, "/health", "",
			map[string]string{RequestIDHeader: strings.Repeat("x", core.MaxRequestIDLength+1)})
		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "pplxchat_usage_prompt_tokens_total 5",
		},
		{
			name:           "metrics enabled - empty endpoint defaults to /metrics",
			config:         &Config{MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics disabled - endpoint returns 404",
			config:         &Config{MetricsEnabled: false, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "nil config - metrics disabled by default",
			config:         nil,
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "custom metrics endpoint path",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/monitoring/metrics"},
			requestPath:    "/monitoring/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "custom endpoint - default path returns 404",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/custom-metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "api path falls back to /metrics",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/v1/usage/summary"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "path traversal is cleaned",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/foo/../v1/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config != nil {
				tt.config.MetricsHandler = metricsHandler(t)
			}
			srv := New(&mockRunner{}, nil, tt.config)

			rec := serve(srv, http.MethodGet, tt.requestPath, "", nil)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectBody)
			}
		})
	}
}

func TestResolveMetricsPath(t *testing.T) {
	tests := map[string]string{
		"":                    "/metrics",
		"/metrics":            "/metrics",
		"stats":               "/stats",
		"/a/b/../metrics":     "/a/metrics",
		"/health":             "/metrics",
		"/v1":                 "/metrics",
		"/v1/chat/completion": "/metrics",
		"/":                   "/metrics",
	}
	for in, want := range tests {
		assert.Equal(t, want, resolveMetricsPath(in), "input %q", in)
	}
}

func TestServerWithMasterKeyAndMetrics(t *testing.T) {
	reader := &mockReader{summary: &usage.Summary{Models: []usage.ModelUsage{}}}
	runner := &mockRunner{result: &core.CompletionResult{OutputText: "ok", RawResponse: "{}"}}
	srv := New(runner, reader, &Config{
		MasterKey:      "secret-key",
		MetricsEnabled: true,
		MetricsHandler: metricsHandler(t),
	})

	auth := map[string]string{"Authorization": "Bearer secret-key"}
	chatBody := `{"api_key":"k","model":"sonar","messages":[{"type":"user","content":"hi"}]}`

	t.Run("health and metrics skip auth", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health", "", nil).Code)
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/metrics", "", nil).Code)
	})

	t.Run("api routes require auth", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(srv, http.MethodPost, "/v1/chat/completion", chatBody, nil).Code)
		assert.Equal(t, http.StatusUnauthorized, serve(srv, http.MethodGet, "/v1/usage/summary", "", nil).Code)
	})

	t.Run("api routes accept master key", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodPost, "/v1/chat/completion", chatBody, auth).Code)
		assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/v1/usage/summary", "", auth).Code)
	})
}

func TestConfigurableBodySizeLimit(t *testing.T) {
	runner := &mockRunner{result: &core.CompletionResult{OutputText: "ok", RawResponse: "{}"}}
	srv := New(runner, nil, &Config{BodySizeLimit: "128B"})

	small := `{"api_key":"k","model":"sonar","messages":[{"type":"user","content":"hi"}]}`
	rec := serve(srv, http.MethodPost, "/v1/chat/completion", small, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	large := `{"api_key":"k","model":"sonar","messages":[{"type":"user","content":"` + strings.Repeat("x", 512) + `"}]}`
	rec = serve(srv, http.MethodPost, "/v1/chat/completion", large, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	srv := New(panicRunner{}, nil, nil)
	rec := serve(srv, http.MethodPost, "/v1/chat/completion",
		`{"api_key":"k","model":"sonar","messages":[{"type":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
