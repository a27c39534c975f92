package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-process blob store for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailDeletes forces Delete to error, for exercising partial-purge
	// retry paths in tests.
	FailDeletes bool
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the content under the handle.
func (s *MemoryStore) Put(ctx context.Context, handle string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[handle] = data
	return nil
}

// Get returns a reader over a copy of the stored content.
func (s *MemoryStore) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[handle]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, handle)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the blob; missing handles are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	if s.FailDeletes {
		return fmt.Errorf("simulated blob store outage")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, handle)
	return nil
}

// Len reports how many blobs are stored; test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Has reports whether a handle exists; test helper.
func (s *MemoryStore) Has(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[handle]
	return ok
}
