// Package cache implements the reputation record cache in process memory
// and in redis.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/internal/domain/reputation"
)

// Open returns the cache for a configured driver.
func Open(driver, addr string) (reputation.Cache, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(addr), nil
	}
	return nil, fmt.Errorf("cache.open %q: %w", driver, ErrUnknownDriver)
}

type entry struct {
	rec     reputation.Record
	expires time.Time
}

// Memory is a TTL map. Expired entries are dropped on read.
type Memory struct {
	mu      sync.RWMutex
	entries map[model.Address]entry
	now     func() time.Time
}

var _ reputation.Cache = (*Memory)(nil)

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{entries: make(map[model.Address]entry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a live record.
func (m *Memory) Get(_ context.Context, user model.Address) (reputation.Record, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[user]
	m.mu.RUnlock()
	if !ok {
		return reputation.Record{}, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[user]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, user)
		}
		m.mu.Unlock()
		return reputation.Record{}, false, nil
	}
	return e.rec, true, nil
}

// Set stores rec for ttl.
func (m *Memory) Set(_ context.Context, rec reputation.Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rec.Address] = entry{rec: rec, expires: m.now().Add(ttl)}
	return nil
}

// Delete drops the user's record.
func (m *Memory) Delete(_ context.Context, user model.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, user)
	return nil
}

// Len reports the number of stored entries, live or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
