package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/showwhy/discoverd/internal/ports"
)

// InMemoryStateStorage implements ports.StateBackend using an in-memory map.
// Used for single-process deployments and tests.
type InMemoryStateStorage struct {
	cells map[string][]byte
	mu    sync.RWMutex
}

// NewInMemoryStateStorage creates a new in-memory state storage
func NewInMemoryStateStorage() *InMemoryStateStorage {
	return &InMemoryStateStorage{
		cells: make(map[string][]byte),
	}
}

// Save stores a copy of data under key
func (s *InMemoryStateStorage) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid mutations through the caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)
	s.cells[key] = stored
	return nil
}

// Load retrieves the data stored under key
func (s *InMemoryStateStorage) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.cells[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrStateNotFound, key)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes keys; missing keys are ignored
func (s *InMemoryStateStorage) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.cells, key)
	}
	return nil
}

// List returns the sorted keys starting with prefix
func (s *InMemoryStateStorage) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.cells))
	for key := range s.cells {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}
