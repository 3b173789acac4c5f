package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is a Store for development and tests. Presigned URLs point at a
// fake host; tests simulate the client upload with Put.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), ttl: DefaultPresignTTL, now: time.Now}
}

func (m *MemoryStore) sign(op, key string) string {
	q := url.Values{}
	q.Set("op", op)
	q.Set("expires", fmt.Sprintf("%d", m.now().Add(m.ttl).Unix()))
	return "memory://blobs/" + url.PathEscape(key) + "?" + q.Encode()
}

func (m *MemoryStore) PresignPut(_ context.Context, key, _ string) (string, error) {
	return m.sign("put", key), nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	return m.sign("get", key), nil
}

// Put stores content as if a client had used the presigned PUT URL.
func (m *MemoryStore) Put(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), content...)
}

func (m *MemoryStore) Stat(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return 0, ErrBlobNotFound
	}
	return int64(len(b)), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
