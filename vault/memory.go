package vault

import (
	"context"
	"sync"

	"github.com/MrEthical07/umbra/sensitive"
)

// MemoryStore keeps sealed records in a process-local map.
type MemoryStore struct {
	sealedStore
	mem *memoryBackend
}

// NewMemoryStore returns an empty in-memory store sealed by sealer.
func NewMemoryStore(sealer *Sealer) *MemoryStore {
	mem := &memoryBackend{records: make(map[string][]byte)}
	return &MemoryStore{
		sealedStore: sealedStore{sealer: sealer, backend: mem},
		mem:         mem,
	}
}

// Len reports how many records are stored.
func (m *MemoryStore) Len() int {
	m.mem.mu.RLock()
	defer m.mem.mu.RUnlock()
	return len(m.mem.records)
}

type memoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func (b *memoryBackend) load(_ context.Context, name string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(rec))
	copy(out, rec)
	return out, nil
}

func (b *memoryBackend) save(_ context.Context, name string, record []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.records[name]; ok {
		sensitive.Wipe(old)
	}
	b.records[name] = record
	return nil
}

func (b *memoryBackend) remove(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.records[name]; ok {
		sensitive.Wipe(old)
		delete(b.records, name)
	}
	return nil
}
