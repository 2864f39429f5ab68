package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in a map. FailPut, when set, is consulted before
// every Put and lets tests inject store faults.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob

	FailPut func(key string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("payload size %d does not match declared %d", len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.blobs[key] = memoryBlob{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

// Get returns a reader over a snapshot of the blob, so a concurrent Delete
// never truncates an open stream.
func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
