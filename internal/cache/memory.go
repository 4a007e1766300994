package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local Store on top of go-cache.
type Memory struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrMiss
	}
	return fmt.Sprint(v), nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) IncrWithExpire(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.c.Add(key, int64(1), window); err == nil {
		return 1, nil
	}
	n, err := m.c.IncrementInt64(key, 1)
	if err != nil {
		// expired between Add and IncrementInt64
		if m.c.Add(key, int64(1), window) == nil {
			return 1, nil
		}
		return 0, err
	}
	return n, nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.c.Add(key, value, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) DeleteIfEqual(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(key)
	if !ok || fmt.Sprint(v) != value {
		return false, nil
	}
	m.c.Delete(key)
	return true, nil
}
