package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/mzakharov/filevault/internal/shared"
)

// MemoryStore is an in-process Store used in tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, locator string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[locator] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[locator]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, locator)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
