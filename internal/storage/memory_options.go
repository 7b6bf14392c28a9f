package storage

import (
	"context"
	"sync"
)

// MemoryOptionStore is an in-memory option store with the same contract as
// OptionsRepository. It backs unit tests and development mode, where a
// Postgres instance is not available.
type MemoryOptionStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	autoload map[string]bool
	// FailWrites makes every Set return an error, for exercising the
	// retry-exhaustion path in tests.
	FailWrites bool
}

// NewMemoryOptionStore creates an empty in-memory option store
func NewMemoryOptionStore() *MemoryOptionStore {
	return &MemoryOptionStore{
		values:   make(map[string][]byte),
		autoload: make(map[string]bool),
	}
}

// Get retrieves an option value by key
func (s *MemoryOptionStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}

	// Copy so callers cannot mutate the stored slice
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set stores an option value, recording the autoload flag
func (s *MemoryOptionStore) Set(_ context.Context, key string, value []byte, autoload bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return errWriteDisabled
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	s.autoload[key] = autoload
	return nil
}

// Delete removes an option by key
func (s *MemoryOptionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.autoload, key)
	return nil
}

// GetAutoload returns all options flagged for preloading
func (s *MemoryOptionStore) GetAutoload(_ context.Context) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	options := make(map[string][]byte)
	for key, flagged := range s.autoload {
		if !flagged {
			continue
		}
		value := s.values[key]
		out := make([]byte, len(value))
		copy(out, value)
		options[key] = out
	}
	return options, nil
}

// Len returns the number of stored options
func (s *MemoryOptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

type memoryStoreError string

func (e memoryStoreError) Error() string { return string(e) }

const errWriteDisabled = memoryStoreError("memory option store: writes disabled")
