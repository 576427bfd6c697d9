package store

import (
	"context"
	"sync"

	"portfolio-tracker/internal/model"
)

// MemoryBlobStore is a process-local BlobStore.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// PutErr, when set, is returned by every Put.
	PutErr error
}

// NewMemoryBlobStore creates an empty MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	b := make([]byte, len(data))
	copy(b, data)
	m.blobs[key] = b
	return nil
}

func (m *MemoryBlobStore) Close() error { return nil }
