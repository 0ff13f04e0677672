package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==== FIXTURE: a tiny counter aggregate ====

type counted struct {
	Total   int `json:"total"`
	Commits int `json:"commits"`
}

type added struct {
	N int `json:"n"`
}

func (added) EventType() string { return "test.Added" }

type reset struct{}

func (reset) EventType() string { return "test.Reset" }

func countedTransition(s *counted, ev Event) {
	switch e := ev.(type) {
	case added:
		s.Total += e.N
		s.Commits++
	case reset:
		s.Total = 0
	}
}

func newCountedCodec() *Codec {
	c := NewCodec()
	RegisterEvent[added](c)
	RegisterEvent[reset](c)
	return c
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// flakyJournalStore fails the next append, then recovers.
type flakyJournalStore struct {
	JournalStore
	failNext bool
}

func (s *flakyJournalStore) Append(ctx context.Context, key string, expectedSeq int64, events []StoredEvent) error {
	if s.failNext {
		s.failNext = false
		return errors.New("journal unavailable")
	}
	return s.JournalStore.Append(ctx, key, expectedSeq, events)
}

// ==== TESTS ====

func TestAggregateRaiseAppliesImmediately(t *testing.T) {
	agg := NewAggregate[counted]("k", NewMemoryJournalStore(), newCountedCodec(), countedTransition)
	require.NoError(t, agg.Load(context.Background()))

	agg.Raise(added{N: 3}, added{N: 4})
	assert.Equal(t, 7, agg.State().Total)
	assert.Equal(t, int64(0), agg.Version(), "tentative until confirmed")

	require.NoError(t, agg.ConfirmEvents(context.Background()))
	assert.Equal(t, int64(2), agg.Version())
}

func TestAggregateReplayReproducesState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	codec := newCountedCodec()

	agg := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, agg.Load(ctx))
	agg.Raise(added{N: 10})
	require.NoError(t, agg.ConfirmEvents(ctx))
	agg.Raise(reset{}, added{N: 5})
	require.NoError(t, agg.ConfirmEvents(ctx))

	replayed := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, replayed.Load(ctx))
	assert.Equal(t, *agg.State(), *replayed.State())
	assert.Equal(t, agg.Version(), replayed.Version())
}

func TestAggregateConfirmStampsSequentialRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	agg := NewAggregate[counted]("k", store, newCountedCodec(), countedTransition).WithClock(fixedClock(at))
	require.NoError(t, agg.Load(ctx))
	agg.Raise(added{N: 1})
	require.NoError(t, agg.ConfirmEvents(ctx))
	agg.Raise(added{N: 2}, added{N: 3})
	require.NoError(t, agg.ConfirmEvents(ctx))

	stored, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, se := range stored {
		assert.Equal(t, int64(i+1), se.Seq)
		assert.Equal(t, "test.Added", se.Type)
		assert.Equal(t, at, se.RecordedAt)
	}
}

func TestAggregateConfirmNoopWithoutPending(t *testing.T) {
	agg := NewAggregate[counted]("k", NewMemoryJournalStore(), newCountedCodec(), countedTransition)
	require.NoError(t, agg.Load(context.Background()))
	require.NoError(t, agg.ConfirmEvents(context.Background()))
	assert.Equal(t, int64(0), agg.Version())
}

func TestAggregateCompetingWriterConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	codec := newCountedCodec()

	a := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, a.Load(ctx))
	b := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, b.Load(ctx))

	a.Raise(added{N: 1})
	require.NoError(t, a.ConfirmEvents(ctx))

	b.Raise(added{N: 2})
	err := b.ConfirmEvents(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailure)

	// The loser reloads and sees only the winner's commit
	require.NoError(t, b.Load(ctx))
	assert.Equal(t, 1, b.State().Total)
	assert.Equal(t, int64(1), b.Version())
}

func TestAggregateFailedConfirmRollsBackState(t *testing.T) {
	ctx := context.Background()
	store := &flakyJournalStore{JournalStore: NewMemoryJournalStore()}
	codec := newCountedCodec()

	agg := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, agg.Load(ctx))
	agg.Raise(added{N: 11})
	require.NoError(t, agg.ConfirmEvents(ctx))

	store.failNext = true
	agg.Raise(added{N: 3})
	err := agg.ConfirmEvents(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, 11, agg.State().Total, "tentative mutation must not survive a failed commit")
	assert.Equal(t, int64(1), agg.Version())

	// The next command builds on the confirmed state, so replay agrees
	// with the live state afterwards.
	agg.Raise(added{N: 4})
	require.NoError(t, agg.ConfirmEvents(ctx))
	assert.Equal(t, 15, agg.State().Total)
	assert.Equal(t, int64(2), agg.Version())

	replayed := NewAggregate[counted]("k", store, codec, countedTransition)
	require.NoError(t, replayed.Load(ctx))
	assert.Equal(t, *agg.State(), *replayed.State())
	assert.Equal(t, agg.Version(), replayed.Version())
}

func TestAggregateRollbackSpansMultipleRaises(t *testing.T) {
	ctx := context.Background()
	store := &flakyJournalStore{JournalStore: NewMemoryJournalStore()}

	agg := NewAggregate[counted]("k", store, newCountedCodec(), countedTransition)
	require.NoError(t, agg.Load(ctx))
	agg.Raise(added{N: 5})
	require.NoError(t, agg.ConfirmEvents(ctx))

	store.failNext = true
	agg.Raise(added{N: 1})
	agg.Raise(reset{}, added{N: 2})
	require.Error(t, agg.ConfirmEvents(ctx))

	assert.Equal(t, 5, agg.State().Total, "all raises since the last confirm roll back together")
	assert.Equal(t, int64(1), agg.Version())
}

func TestCodecRejectsUnknownEventType(t *testing.T) {
	_, err := newCountedCodec().Decode(StoredEvent{Seq: 1, Type: "test.Vanished", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestLoadFailsOnUndecodableJournal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	require.NoError(t, store.Append(ctx, "k", 0, []StoredEvent{
		{Seq: 1, Type: "test.Vanished", Payload: []byte(`{}`)},
	}))

	agg := NewAggregate[counted]("k", store, newCountedCodec(), countedTransition)
	err := agg.Load(ctx)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestMemoryJournalStoreSeqConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	require.NoError(t, store.Append(ctx, "k", 0, []StoredEvent{{Seq: 1, Type: "test.Added", Payload: []byte(`{"n":1}`)}}))

	err := store.Append(ctx, "k", 0, []StoredEvent{{Seq: 1, Type: "test.Added", Payload: []byte(`{"n":2}`)}})
	assert.ErrorIs(t, err, ErrSeqConflict)
}
