package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// StateStore is the snapshot persistence model: one versioned record per
// (actor key, slot name). Writes are optimistically concurrent: a write with
// a stale expected version fails, which can only happen if the
// single-activation guarantee was violated.
type StateStore interface {
	Read(ctx context.Context, actorKey, slot string) (Record, error)
	Write(ctx context.Context, actorKey, slot string, data []byte, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, actorKey, slot string) error
}

// Record is a raw versioned state snapshot.
type Record struct {
	Data    []byte
	Version int64
}

var (
	ErrStateNotFound   = errors.New("state not found")
	ErrVersionConflict = errors.New("state version conflict")
)

// Slot binds a typed state record to a store location. State is read on
// activation and written on demand; the version counter increments on each
// successful write. JSON keeps the layout forward-compatible: new optional
// fields do not break older readers.
type Slot[T any] struct {
	store   StateStore
	key     string
	name    string
	version int64

	State T
}

func NewSlot[T any](store StateStore, key Key, name string) *Slot[T] {
	return &Slot[T]{store: store, key: key.String(), name: name}
}

// Read loads the record, leaving the zero value (version 0) when none exists.
func (s *Slot[T]) Read(ctx context.Context) error {
	rec, err := s.store.Read(ctx, s.key, s.name)
	if errors.Is(err, ErrStateNotFound) {
		var zero T
		s.State = zero
		s.version = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state %s/%s: %w", s.key, s.name, err)
	}
	if err := json.Unmarshal(rec.Data, &s.State); err != nil {
		return fmt.Errorf("decode state %s/%s: %w", s.key, s.name, err)
	}
	s.version = rec.Version
	return nil
}

// Write persists the current state. On return the write is durable.
func (s *Slot[T]) Write(ctx context.Context) error {
	data, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("encode state %s/%s: %w", s.key, s.name, err)
	}
	v, err := s.store.Write(ctx, s.key, s.name, data, s.version)
	if err != nil {
		return fmt.Errorf("write state %s/%s: %w", s.key, s.name, err)
	}
	s.version = v
	return nil
}

// Version returns the committed version counter.
func (s *Slot[T]) Version() int64 { return s.version }
