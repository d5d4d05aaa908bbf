package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Event broker types.
const (
	EventsRedis    = "redis"
	EventsRabbitMQ = "rabbitmq"
)

// DefaultEventsQueue is the Redis list or RabbitMQ queue used when none is set.
const DefaultEventsQueue = "pplxchat.usage"

// EventsConfig selects the broker that receives a copy of every ledger entry.
type EventsConfig struct {
	// Type is EventsRedis, EventsRabbitMQ, or empty to disable publishing
	Type string
	// URL is a redis:// or amqp:// connection URL
	URL string
	// Queue defaults to DefaultEventsQueue
	Queue string
}

// Publisher delivers one JSON-encoded usage entry to a broker.
type Publisher interface {
	Publish(ctx context.Context, id string, payload []byte) error
	Close() error
}

// NewPublisher connects to the configured broker. It returns nil when
// publishing is disabled.
func NewPublisher(ctx context.Context, cfg EventsConfig) (Publisher, error) {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultEventsQueue
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case EventsRedis:
		return NewRedisPublisher(ctx, cfg.URL, queue)
	case EventsRabbitMQ:
		return NewAMQPPublisher(cfg.URL, queue)
	default:
		return nil, fmt.Errorf("unknown usage events type: %s (valid: redis, rabbitmq)", cfg.Type)
	}
}

// publishingStore writes to the ledger first and then publishes every entry
// of a successful batch. Publish failures are logged and counted; they never
// fail the ledger write.
type publishingStore struct {
	UsageStore
	publisher Publisher
	failed    atomic.Int64
}

func newPublishingStore(store UsageStore, publisher Publisher) *publishingStore {
	return &publishingStore{UsageStore: store, publisher: publisher}
}

func (s *publishingStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if err := s.UsageStore.WriteBatch(ctx, entries); err != nil {
		return err
	}
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err == nil {
			err = s.publisher.Publish(ctx, e.ID, payload)
		}
		if err != nil {
			s.failed.Add(1)
			slog.Warn("failed to publish usage event", "id", e.ID, "error", err)
		}
	}
	return nil
}

func (s *publishingStore) Close() error {
	return errors.Join(s.UsageStore.Close(), s.publisher.Close())
}
