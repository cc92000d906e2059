// Package cachetest provides an in-memory cache.Cache for unit tests.
package cachetest

import (
	"context"
	"sync"
	"time"

	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/google/uuid"
)

// Memory implements cache.Cache with maps. TTLs are recorded but not
// enforced except for leases, where expiry matters to the tests.
type Memory struct {
	mu      sync.Mutex
	values  map[string][]byte
	counts  map[string]int64
	leases  map[string]lease
	nowFunc func() time.Time

	// Err, when set, is returned by every method.
	Err error
}

type lease struct {
	token   string
	expires time.Time
}

func New() *Memory {
	return &Memory{
		values:  make(map[string][]byte),
		counts:  make(map[string]int64),
		leases:  make(map[string]lease),
		nowFunc: time.Now,
	}
}

// SetNow overrides the clock used for lease expiry.
func (m *Memory) SetNow(now func() time.Time) { m.nowFunc = now }

func (m *Memory) Ping(_ context.Context) error { return m.Err }

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.Err != nil {
		return nil, false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *Memory) AcquireLease(_ context.Context, accountID uuid.UUID, ttl time.Duration) (string, bool, error) {
	if m.Err != nil {
		return "", false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cache.AccountLeaseKey(accountID)
	now := m.nowFunc()
	if l, ok := m.leases[key]; ok && l.expires.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *Memory) ReleaseLease(_ context.Context, accountID uuid.UUID, token string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cache.AccountLeaseKey(accountID)
	if l, ok := m.leases[key]; ok && l.token == token {
		delete(m.leases, key)
	}
	return nil
}

// Leased reports whether accountID currently holds an unexpired lease.
func (m *Memory) Leased(accountID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[cache.AccountLeaseKey(accountID)]
	return ok && l.expires.After(m.nowFunc())
}

var _ cache.Cache = (*Memory)(nil)
