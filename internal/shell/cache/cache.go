// Package cache provides the pluggable key-value cache used to remember
// provider-assigned names between a create call and a later delete call,
// since some providers assign names the caller cannot reconstruct.
package cache

import (
	"context"
	"sync"
	"time"
)

// ProvisionedNameTTL is how long a remembered provider-assigned name lives.
const ProvisionedNameTTL = 24 * time.Hour

// Cache is a small TTL'd key-value store.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// =============================================================================
// In-Memory Cache
// =============================================================================

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process cache used in tests and single-node deployments.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory creates an in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", false, nil
	}
	if !item.expiresAt.IsZero() && m.now().After(item.expiresAt) {
		delete(m.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
