// Package eventlog provides the event-sourced persistence model: an
// append-only journal per aggregate plus the aggregate base type that
// raises, confirms and replays events.
//
// Transition functions must be pure: no I/O, no randomness, no wall-clock
// reads. Time and generated IDs are captured in the events themselves, so
// replaying a journal from the initial state always reproduces the state
// that was live after the last commit.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is the marker contract for domain events. EventType must return a
// stable name; it keys the decoder used during replay.
type Event interface {
	EventType() string
}

// StoredEvent is an event as it sits in the journal.
type StoredEvent struct {
	Seq        int64
	Type       string
	Payload    []byte
	RecordedAt time.Time
}

// JournalStore is the append-only event journal. Append assigns sequence
// numbers expectedSeq+1..expectedSeq+len(events); a mismatched expectedSeq
// means another writer got there first and the append is rejected.
type JournalStore interface {
	Append(ctx context.Context, actorKey string, expectedSeq int64, events []StoredEvent) error
	Load(ctx context.Context, actorKey string) ([]StoredEvent, error)
}

var (
	ErrSeqConflict        = errors.New("journal sequence conflict")
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Codec maps stored event type names back to concrete event values.
type Codec struct {
	decoders map[string]func([]byte) (Event, error)
}

func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]func([]byte) (Event, error))}
}

// RegisterEvent registers the decoder for event type E. E must implement
// Event on its value receiver and report a constant EventType.
func RegisterEvent[E Event](c *Codec) {
	var zero E
	c.decoders[zero.EventType()] = func(data []byte) (Event, error) {
		var e E
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Decode turns a stored event back into its domain value.
func (c *Codec) Decode(se StoredEvent) (Event, error) {
	dec, ok := c.decoders[se.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, se.Type)
	}
	return dec(se.Payload)
}
