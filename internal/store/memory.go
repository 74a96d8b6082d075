package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used by tests and one-shot commands
// that must not touch the on-disk state.
type Memory struct {
	mu    sync.Mutex
	blobs map[[2]string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[[2]string]string)}
}

func (m *Memory) Save(_ context.Context, scope, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := [2]string{scope, field}
	if value == "" {
		delete(m.blobs, key)
		return nil
	}
	m.blobs[key] = value
	return nil
}

func (m *Memory) Load(_ context.Context, scope, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blobs[[2]string{scope, field}], nil
}

func (m *Memory) Close() error {
	return nil
}
