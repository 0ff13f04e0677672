package eventlog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryJournalStore keeps journals in process memory. Used by tests and
// single-node deployments.
type MemoryJournalStore struct {
	mu       sync.RWMutex
	journals map[string][]StoredEvent
}

func NewMemoryJournalStore() *MemoryJournalStore {
	return &MemoryJournalStore{journals: make(map[string][]StoredEvent)}
}

func (s *MemoryJournalStore) Append(_ context.Context, actorKey string, expectedSeq int64, events []StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.journals[actorKey]
	if int64(len(journal)) != expectedSeq {
		return fmt.Errorf("%w: %s has %d events, expected %d", ErrSeqConflict, actorKey, len(journal), expectedSeq)
	}
	s.journals[actorKey] = append(journal, events...)
	return nil
}

func (s *MemoryJournalStore) Load(_ context.Context, actorKey string) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	journal := s.journals[actorKey]
	out := make([]StoredEvent, len(journal))
	copy(out, journal)
	return out, nil
}
