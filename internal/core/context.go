package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// MaxRequestIDLength bounds caller-supplied request IDs. Longer values are
// replaced rather than truncated so two distinct IDs never collapse into one.
const MaxRequestIDLength = 128

// WithRequestID attaches id to ctx. The ID is what ties a server response,
// its log lines and the usage ledger entry of one task together.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID carried by ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// EnsureRequestID returns ctx unchanged when it already carries a request ID,
// otherwise a derived context with a fresh UUID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := GetRequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// SanitizeRequestID trims an inbound X-Request-ID and returns "" when it is
// too long or holds anything outside printable ASCII, so a fresh one is used.
func SanitizeRequestID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > MaxRequestIDLength {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ""
		}
	}
	return id
}
