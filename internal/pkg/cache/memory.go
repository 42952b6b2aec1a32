package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryCache is an in-process Cache for tests and local development.
// TTLs are honored lazily on read.
type memoryCache struct {
	mu          sync.RWMutex
	entries     map[string]memoryEntry
	serviceName string
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryCache(serviceName string) Cache {
	return &memoryCache{
		entries:     make(map[string]memoryEntry),
		serviceName: serviceName,
	}
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := memoryEntry{value: fmt.Sprint(value)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", nil
	}
	return entry.value, nil
}

func (m *memoryCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", m.serviceName, operation, key)
}
