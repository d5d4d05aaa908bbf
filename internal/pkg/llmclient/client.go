// Package llmclient provides the HTTP transport used to reach the provider:
// - JSON POST with provider headers
// - Single attempt, no retries (retrying is the caller's decision)
// - Network failures mapped to transport errors
// - Raw status and body returned for the caller to interpret
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"pplxchat/internal/core"
	"pplxchat/internal/httpclient"
)

const (
	// DefaultBaseURL is the Perplexity API base URL
	DefaultBaseURL = "https://api.perplexity.ai"
	// ChatCompletionsEndpoint is the fixed chat-completion path
	ChatCompletionsEndpoint = "/chat/completions"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// BearerAuth returns a HeaderSetter that sends a static bearer token.
func BearerAuth(token string) HeaderSetter {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	ownsClient   bool
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client that owns a freshly pooled HTTP client.
// Close releases its idle connections.
func New(config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpclient.NewDefaultHTTPClient(),
		ownsClient:   true,
		config:       config,
		headerSetter: headerSetter,
	}
}

// NewWithHTTPClient creates a new LLM client on a shared HTTP client.
// If httpClient is nil, http.DefaultClient is used. Close is a no-op.
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	// Body is sent verbatim; callers encode it
	Body    []byte
	Headers map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// DoRaw executes a single request and returns the raw status and body.
// Any status is returned as-is; only failures to complete the exchange are errors.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, "failed to send request: "+err.Error(), err, isTimeout(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, "failed to read response: "+err.Error(), err, isTimeout(err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// Close releases idle connections held by an owned HTTP client.
func (c *Client) Close() error {
	if c.ownsClient {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewConfigurationError("failed to create request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	// Apply provider-specific headers
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	// Apply request-specific headers
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
