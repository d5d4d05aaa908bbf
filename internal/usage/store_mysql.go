package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlErrDuplicateKeyName is returned when an index already exists.
const mysqlErrDuplicateKeyName = 1061

// MySQLStore implements UsageStore for MySQL databases.
type MySQLStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewMySQLStore creates the usage table and indexes if needed and starts the
// retention cleanup loop when retentionDays > 0.
func NewMySQLStore(ctx context.Context, db *sql.DB, retentionDays int) (*MySQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS `usage` ("+`
			id CHAR(36) PRIMARY KEY,
			request_id VARCHAR(128) NOT NULL,
			response_id VARCHAR(128) NOT NULL DEFAULT '',
			timestamp DATETIME(6) NOT NULL,
			model VARCHAR(128) NOT NULL,
			provider VARCHAR(64) NOT NULL,
			source VARCHAR(32) NOT NULL DEFAULT '',
			prompt_tokens BIGINT NOT NULL DEFAULT 0,
			completion_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS
	indexes := []string{
		"CREATE INDEX idx_usage_timestamp ON `usage`(timestamp)",
		"CREATE INDEX idx_usage_request_id ON `usage`(request_id)",
		"CREATE INDEX idx_usage_model ON `usage`(model)",
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			var mysqlErr *mysql.MySQLError
			if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateKeyName {
				continue
			}
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &MySQLStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch inserts entries with one multi-row statement per chunk.
// Entries whose id already exists are skipped.
func (s *MySQLStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		chunk := entries[i:min(i+maxEntriesPerBatch, len(entries))]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerUsageEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.ResponseID,
				e.Timestamp.UTC(),
				e.Model,
				e.Provider,
				e.Source,
				e.PromptTokens,
				e.CompletionTokens,
				e.TotalTokens,
			)
		}

		query := "INSERT IGNORE INTO `usage` (id, request_id, response_id, timestamp, model, provider, " +
			"source, prompt_tokens, completion_tokens, total_tokens) VALUES " +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for MySQL as writes are synchronous.
func (s *MySQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The DB belongs to the storage layer.
func (s *MySQLStore) Close() error {
	if s.retentionDays > 0 {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *MySQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := RetentionCutoff(time.Now(), s.retentionDays)

	result, err := s.db.ExecContext(ctx, "DELETE FROM `usage` WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage entries", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old usage entries", "deleted", rowsAffected)
	}
}
