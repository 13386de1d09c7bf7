// Package localstore keeps the client-side state that survives restarts:
// the auth token and the mirrored dashboard layouts. It is the Go
// counterpart of browser local storage, backed by SQLite, Redis or memory.
package localstore

import (
	"context"
	"errors"
	"fmt"

	"cryptodash/internal/config"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a string key/value store.
type KV interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the KV selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Storage) (KV, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteKV(cfg.SQLitePath)
	case "redis":
		return NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix)
	case "memory", "":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
