package db

import (
	"context"
	"sync"
)

// MemoryStore is a process local KeyStore, used by tests and the
// "memory" storage driver.
type MemoryStore struct {
	mu   sync.Mutex
	keys []LicenseKey
}

func NewMemoryStore(keys ...LicenseKey) *MemoryStore {
	return &MemoryStore{keys: cloneKeys(keys)}
}

func (m *MemoryStore) LoadAll(_ context.Context) []LicenseKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneKeys(m.keys)
}

func (m *MemoryStore) SaveAll(_ context.Context, keys []LicenseKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = cloneKeys(keys)
	return nil
}
