package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential pair in process memory. Nothing survives a
// restart; it serves tests and STORE_TYPE=memory.
type MemoryStore struct {
	mu           sync.RWMutex
	refreshToken string
	accessToken  string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, refreshToken, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToken = refreshToken
	m.accessToken = accessToken
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken, m.accessToken, nil
}

type memoryFactory struct{}

func (memoryFactory) Create(ctx context.Context, opts Options) (SessionStore, error) {
	return NewMemoryStore(), nil
}

func (memoryFactory) GetType() string {
	return "memory"
}

func init() {
	Register("memory", memoryFactory{})
}
