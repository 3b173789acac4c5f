package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// MemoryKV is a bounded LRU KV used when REDIS_URL is unset and in tests.
type MemoryKV struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
	now     func() time.Time
}

func NewMemoryKV(maxEntries int) *MemoryKV {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryKV{
		max:     maxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// lookup returns the live element for key, dropping it if expired. Caller holds mu.
func (m *MemoryKV) lookup(key string) *list.Element {
	el, ok := m.entries[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memEntry)
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil
	}
	return el
}

func (m *MemoryKV) put(key, value string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expiresAt = value, exp
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&memEntry{key: key, value: value, expiresAt: exp})
	for m.order.Len() > m.max {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memEntry).key)
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el := m.lookup(key)
	if el == nil {
		return "", ErrMiss
	}
	m.order.MoveToFront(el)
	return el.Value.(*memEntry).value, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

func (m *MemoryKV) SetXX(_ context.Context, key string, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el := m.lookup(key)
	if el == nil {
		return false, nil
	}
	el.Value.(*memEntry).value = value
	return true, nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.entries[k]; ok {
			m.order.Remove(el)
			delete(m.entries, k)
		}
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
