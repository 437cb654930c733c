package keystore

import (
	"context"
	"sync"
)

// MemoryRepository is an in-process Repository used in tests and for
// ephemeral sessions that should leave nothing on disk.
type MemoryRepository struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{secrets: make(map[string][]byte)}
}

func (r *MemoryRepository) Get(_ context.Context, name string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.secrets[name]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (r *MemoryRepository) Set(_ context.Context, name string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	r.secrets[name] = stored
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, name)
	return nil
}

func (r *MemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = make(map[string][]byte)
	return nil
}
