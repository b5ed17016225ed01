// Package store persists conversation snapshots so sessions survive restarts.
package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhouzirui/tofu-tavern/backend/internal/config"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

// ErrNotFound is returned when no snapshot exists for an id.
var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads conversation snapshots by session id.
type Store interface {
	Save(ctx context.Context, snapshot chat.Snapshot) error
	Load(ctx context.Context, id string) (chat.Snapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.SQLiteDSN)
	case config.StoreRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func cloneSnapshot(s chat.Snapshot) chat.Snapshot {
	s.Transcript = append([]chat.Message(nil), s.Transcript...)
	return s
}
