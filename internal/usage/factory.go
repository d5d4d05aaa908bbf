package usage

import (
	"context"
	"errors"
	"fmt"

	"pplxchat/internal/storage"
)

// Result holds the ledger writer and reader together with the storage they
// share. The caller must Close it during shutdown.
type Result struct {
	Logger LoggerInterface
	// Reader is nil when the ledger is disabled
	Reader  Reader
	Storage storage.Storage
}

// Close flushes the ledger and releases the storage. Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens storage and builds the ledger. When cfg.Enabled is false it
// returns a NoopLogger and touches no database.
func New(ctx context.Context, storageCfg storage.Config, cfg Config) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	result, err := NewWithSharedStorage(ctx, store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	result.Storage = store
	return result, nil
}

// NewWithSharedStorage builds the ledger on a connection owned by the caller.
// The returned Result does not close store.
func NewWithSharedStorage(ctx context.Context, store storage.Storage, cfg Config) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required when usage tracking is enabled")
	}

	usageStore, reader, err := createBackend(ctx, store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	publisher, err := NewPublisher(ctx, cfg.Events)
	if err != nil {
		_ = usageStore.Close()
		return nil, fmt.Errorf("failed to create usage event publisher: %w", err)
	}
	if publisher != nil {
		usageStore = newPublishingStore(usageStore, publisher)
	}

	return &Result{
		Logger: NewLogger(usageStore, cfg),
		Reader: reader,
	}, nil
}

func createBackend(ctx context.Context, store storage.Storage, retentionDays int) (UsageStore, Reader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		w, err := NewSQLiteStore(store.SQLiteDB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewSQLiteReader(store.SQLiteDB())
		return w, r, err

	case storage.TypePostgreSQL:
		w, err := NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewPostgreSQLReader(store.PostgreSQLPool())
		return w, r, err

	case storage.TypeMongoDB:
		w, err := NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMongoDBReader(store.MongoDatabase())
		return w, r, err

	case storage.TypeMySQL:
		w, err := NewMySQLStore(ctx, store.MySQLDB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMySQLReader(store.MySQLDB())
		return w, r, err

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
