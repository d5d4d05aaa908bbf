// Package httpclient builds the pooled HTTP client used for Perplexity calls.
//
// A single client is shared by every task a process runs, so connection reuse
// matters more than per-request tuning. Search-grounded completions can take
// minutes before the first header arrives; both the overall and the header
// timeout default to five minutes for that reason.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"pplxchat/internal/version"
)

// ClientConfig holds the transport settings of a provider client.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout bounds a whole exchange, body included.
	Timeout time.Duration

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout is how long to wait for the status line once the
	// request body is sent. The provider does its search before answering,
	// so this is usually the timeout that fires on a slow task.
	ResponseHeaderTimeout time.Duration

	// UserAgent is set on requests that do not carry one. Empty leaves
	// Go's default in place.
	UserAgent string
}

// envDuration reads seconds ("30") or a Go duration ("2m") from key.
// Unset or unparsable values yield def.
func envDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return def
}

// DefaultConfig returns the provider client settings. HTTP_TIMEOUT and
// HTTP_RESPONSE_HEADER_TIMEOUT override the two timeouts (default 300s).
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               envDuration("HTTP_TIMEOUT", 300*time.Second),
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: envDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 300*time.Second),
		UserAgent:             "pplxchat/" + version.Version,
	}
}

// WithTimeouts returns a copy with the request and header timeouts replaced.
// Zero values keep the current setting.
func (c ClientConfig) WithTimeouts(timeout, responseHeaderTimeout time.Duration) ClientConfig {
	if timeout > 0 {
		c.Timeout = timeout
	}
	if responseHeaderTimeout > 0 {
		c.ResponseHeaderTimeout = responseHeaderTimeout
	}
	return c
}

// NewHTTPClient creates a client from config, or from DefaultConfig when
// config is nil.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if config.UserAgent != "" {
		rt = &userAgentTransport{base: transport, agent: config.UserAgent}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
	}
}

// NewDefaultHTTPClient is NewHTTPClient(nil).
func NewDefaultHTTPClient() *http.Client {
	return NewHTTPClient(nil)
}

type userAgentTransport struct {
	base  *http.Transport
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the pool.
func (t *userAgentTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}
