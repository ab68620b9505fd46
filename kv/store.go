package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store is a minimal byte-oriented key-value store with optional expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
