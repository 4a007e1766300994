// Package cache provides the small key/value surface shared by the rate
// limiter, the per-session send lock and token revocation. Redis backs it in
// multi-instance deployments; a process-local cache serves single instances.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

type Store interface {
	// IncrWithExpire increments key and starts a window of the given length
	// when the key is new. The window is not extended by later increments.
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
	// SetNX stores value only when key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	// DeleteIfEqual removes key only while it still holds value.
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
