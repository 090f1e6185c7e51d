// Package cachetest provides an in-memory cache.Cache for tests.
package cachetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kiranshivaraju/linesense/internal/cache"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a map-backed cache.Cache. Setting Err makes every call fail with it.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	Err     error
}

var _ cache.Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	e, ok := m.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.Err
}

func (m *Memory) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	e, _ := m.live(key)
	n, _ := strconv.ParseInt(string(e.value), 10, 64)
	n++
	m.entries[key] = entry{value: []byte(strconv.FormatInt(n, 10)), expires: time.Now().Add(expiry)}
	return n, nil
}

func (m *Memory) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return m.Set(ctx, cache.RevokedTokenKey(tokenID), []byte("1"), ttl)
}

func (m *Memory) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, found, err := m.Get(ctx, cache.RevokedTokenKey(tokenID))
	return found, err
}

// Has reports whether key is present and unexpired.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok
}
