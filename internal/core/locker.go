package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"careerpilot.app/career-chat/internal/cache"
)

const (
	defaultLockTTL   = 2 * time.Minute
	lockPollInterval = 50 * time.Millisecond
	lockTTLMargin    = 30 * time.Second
)

// LockTTLFor sizes the send lock for a model timeout. An exchange makes up to
// two model calls (reply and title), each bounded by the timeout. With no
// timeout the default applies and sends slower than it may overlap.
func LockTTLFor(modelTimeout time.Duration) time.Duration {
	if modelTimeout <= 0 {
		return defaultLockTTL
	}
	if ttl := 2*modelTimeout + lockTTLMargin; ttl > defaultLockTTL {
		return ttl
	}
	return defaultLockTTL
}

// SessionLocker serializes sends per chat session through the shared cache.
// Sends to different sessions never contend.
type SessionLocker struct {
	cache cache.Store
	ttl   time.Duration
}

// NewSessionLocker returns a locker whose locks expire after ttl, so a crashed
// holder cannot block a session forever.
func NewSessionLocker(c cache.Store, ttl time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &SessionLocker{cache: c, ttl: ttl}
}

// Lock blocks until the session lock is held or ctx ends. The returned func
// releases it.
func (l *SessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := "chat:send-lock:" + sessionID
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if ok {
			return func() {
				// Release must outlive a cancelled request context.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = l.cache.DeleteIfEqual(releaseCtx, key, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for session lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
