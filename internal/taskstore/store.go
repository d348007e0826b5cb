package taskstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Store is durable CRUD over task records, scoped by user-id.
//
// Contract: Create inserts with status=queued and
// created_at=updated_at=now. Update is a sparse mutator — only supplied
// fields change, updated_at is always refreshed, and an empty Update is
// a no-op. Mutations are serialised: concurrent callers observe a total
// order of updates per record. Get/List only return records owned by
// the supplied user-id. Store I/O errors are fatal to the caller; there
// is no retry inside the store.
type Store interface {
	Create(ctx context.Context, taskID, userID string, mode Mode, config, meta map[string]any) error
	Update(ctx context.Context, taskID string, u Update) error
	Get(ctx context.Context, userID, taskID string) (*Record, error)
	List(ctx context.Context, userID string, limit int) ([]*Record, error)
	Close() error
}

// Config holds task-store backend configuration.
type Config struct {
	Type     string // "sqlite" or "postgres"
	URL      string
	MaxConns int
	MinConns int
}

// New constructs the backend selected by cfg.Type, wrapped in a
// read-through cache sized by cacheSize (0 disables caching).
func New(ctx context.Context, cfg Config, cacheSize int, logger *zap.Logger) (Store, error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Type {
	case "postgres", "postgresql":
		backend, err = newPostgresStore(ctx, cfg, logger)
	case "sqlite", "sqlite3":
		backend, err = newSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		return backend, nil
	}
	return newCachedStore(backend, cacheSize, logger)
}
