package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("not found")

// Store is a byte-valued key-value store with per-key expiry. It backs the
// query cache when Redis is not reachable.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns -1 for a key without expiry and ErrNotFound for a missing key.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, prefix string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
