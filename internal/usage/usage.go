// Package usage tracks token consumption: counters emitted per call through a
// Sink, and a persistent ledger of usage entries written by an async Logger.
package usage

import (
	"context"
	"time"
)

// UsageStore defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type UsageStore interface {
	// WriteBatch writes multiple usage entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// UsageEntry represents the token usage of one successful chat completion.
type UsageEntry struct {
	// ID is a unique identifier for this usage entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the task invocation ID (X-Request-ID on the server surface)
	RequestID string `json:"request_id" bson:"request_id"`

	// ResponseID is the provider's response "id", empty when absent
	ResponseID string `json:"response_id" bson:"response_id"`

	// Timestamp is when the call completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Model    string `json:"model" bson:"model"`
	Provider string `json:"provider" bson:"provider"`
	// Source is the surface that ran the task: "cli" or "server"
	Source string `json:"source" bson:"source"`

	PromptTokens     int64 `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens" bson:"total_tokens"`
}

// Config holds usage tracking configuration
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of usage entries to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int

	// Events optionally republishes written entries to a broker
	Events EventsConfig
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
