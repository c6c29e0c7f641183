package cache

import (
	"context"
	"sync"
	"time"
)

// Memory — локальная для процесса замена RedisCache.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *Memory) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if ok && !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

// Once выполняет функцию, если ключ ещё не задан.
func (m *Memory) Once(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	m.mu.Lock()
	if _, ok := m.get(key); ok {
		m.mu.Unlock()
		return false, nil
	}
	m.entries[key] = memoryEntry{value: 1, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return true, err
	}
	return true, nil
}

// Incr увеличивает счётчик и продлевает его TTL.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.get(key)
	e.value++
	e.expiresAt = m.now().Add(ttl)
	m.entries[key] = e
	return e.value, nil
}

// Count возвращает значение счётчика.
func (m *Memory) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.get(key)
	return e.value, nil
}
