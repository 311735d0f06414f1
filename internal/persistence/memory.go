package persistence

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store backend, the default for tests
// and single-device builds.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]interface{})}
}

func (s *MemoryStore) Open(ctx context.Context, name string) (Provider, error) {
	s.mu.Lock()
	snapshot := s.docs[name]
	s.mu.Unlock()

	synced := make(chan struct{})
	close(synced)
	return &memoryProvider{store: s, name: name, snapshot: snapshot, synced: synced}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.docs, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryProvider struct {
	store    *MemoryStore
	name     string
	snapshot map[string]interface{}
	synced   chan struct{}
}

func (p *memoryProvider) WhenSynced() <-chan struct{} { return p.synced }

func (p *memoryProvider) Snapshot() map[string]interface{} { return p.snapshot }

func (p *memoryProvider) Save(ctx context.Context, snapshot map[string]interface{}) error {
	p.store.mu.Lock()
	p.store.docs[p.name] = snapshot
	p.store.mu.Unlock()
	p.snapshot = snapshot
	return nil
}

func (p *memoryProvider) Close() error { return nil }
