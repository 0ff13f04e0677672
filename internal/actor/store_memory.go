package actor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStateStore is the in-process StateStore used in tests and
// single-node deployments.
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[string]Record)}
}

func stateKey(actorKey, slot string) string {
	return actorKey + "#" + slot
}

func (s *MemoryStateStore) Read(_ context.Context, actorKey, slot string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[stateKey(actorKey, slot)]
	if !ok {
		return Record{}, ErrStateNotFound
	}
	out := Record{Data: make([]byte, len(rec.Data)), Version: rec.Version}
	copy(out.Data, rec.Data)
	return out, nil
}

func (s *MemoryStateStore) Write(_ context.Context, actorKey, slot string, data []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := stateKey(actorKey, slot)
	current := s.records[k].Version
	if current != expectedVersion {
		return 0, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current, expectedVersion)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.records[k] = Record{Data: stored, Version: expectedVersion + 1}
	return expectedVersion + 1, nil
}

func (s *MemoryStateStore) Delete(_ context.Context, actorKey, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, stateKey(actorKey, slot))
	return nil
}
