package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Clock supplies the timestamps stamped onto journal records. Injected so
// tests replay deterministically.
type Clock func() time.Time

// Aggregate binds a state record to its journal. Raise applies an event to
// the in-memory state immediately (tentative); ConfirmEvents makes the
// raised events durable. Side effects belong after ConfirmEvents returns.
type Aggregate[S any] struct {
	key        string
	store      JournalStore
	codec      *Codec
	transition func(*S, Event)
	clock      Clock

	state     S
	confirmed int64
	pending   []Event

	// JSON snapshot of the confirmed state, captured before the first
	// tentative event so a failed confirm can roll back.
	baseline []byte
}

func NewAggregate[S any](key string, store JournalStore, codec *Codec, transition func(*S, Event)) *Aggregate[S] {
	return &Aggregate[S]{
		key:        key,
		store:      store,
		codec:      codec,
		transition: transition,
		clock:      time.Now,
	}
}

// WithClock overrides the journal timestamp source.
func (a *Aggregate[S]) WithClock(clock Clock) *Aggregate[S] {
	a.clock = clock
	return a
}

// Load replays the journal into a fresh state. Called on activation.
func (a *Aggregate[S]) Load(ctx context.Context) error {
	stored, err := a.store.Load(ctx, a.key)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrPersistenceFailure, a.key, err)
	}

	var state S
	a.state = state
	for _, se := range stored {
		ev, err := a.codec.Decode(se)
		if err != nil {
			return fmt.Errorf("replay %s seq=%d: %w", a.key, se.Seq, err)
		}
		a.transition(&a.state, ev)
	}
	a.confirmed = int64(len(stored))
	a.pending = nil
	a.baseline = nil
	return nil
}

// Raise applies an event to the in-memory state and queues it for commit.
func (a *Aggregate[S]) Raise(events ...Event) {
	if len(a.pending) == 0 && len(events) > 0 {
		a.baseline, _ = json.Marshal(a.state)
	}
	for _, ev := range events {
		a.transition(&a.state, ev)
		a.pending = append(a.pending, ev)
	}
}

// ConfirmEvents durably appends all raised events. On return the commit is
// durable. On error the pending events are discarded and the in-memory
// state rolls back to the last confirmed state, so later commands validate
// against what the journal actually holds; the caller propagates the error
// without emitting side effects.
func (a *Aggregate[S]) ConfirmEvents(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}

	now := a.clock().UTC()
	stored := make([]StoredEvent, len(a.pending))
	for i, ev := range a.pending {
		payload, err := marshalEvent(ev)
		if err != nil {
			a.rollback(ctx)
			return fmt.Errorf("%w: encode %s: %v", ErrPersistenceFailure, a.key, err)
		}
		stored[i] = StoredEvent{
			Seq:        a.confirmed + int64(i) + 1,
			Type:       ev.EventType(),
			Payload:    payload,
			RecordedAt: now,
		}
	}

	if err := a.store.Append(ctx, a.key, a.confirmed, stored); err != nil {
		a.rollback(ctx)
		return fmt.Errorf("%w: append %s: %v", ErrPersistenceFailure, a.key, err)
	}
	a.confirmed += int64(len(stored))
	a.pending = nil
	a.baseline = nil
	return nil
}

// rollback discards the pending events and restores the last confirmed
// state. Restores from the baseline snapshot; falls back to a journal
// replay when no snapshot is usable.
func (a *Aggregate[S]) rollback(ctx context.Context) {
	a.pending = nil
	var state S
	if len(a.baseline) > 0 && json.Unmarshal(a.baseline, &state) == nil {
		a.state = state
		a.baseline = nil
		return
	}
	if err := a.Load(ctx); err != nil {
		// Journal unreachable too; a zero state fails the next command's
		// validation instead of committing on top of tentative mutations.
		a.state = state
	}
}

// State returns the (tentative) in-memory state.
func (a *Aggregate[S]) State() *S { return &a.state }

// Version is the number of confirmed events.
func (a *Aggregate[S]) Version() int64 { return a.confirmed }

func marshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
