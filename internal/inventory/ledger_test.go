package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
)

func newLedger(t *testing.T, store actor.StateStore) *Ledger {
	t.Helper()
	factory := NewLedgerFactory(store)
	a, err := factory(actor.LedgerKey("org1", "site1", "flour"))
	require.NoError(t, err)
	l := a.(*Ledger)
	require.NoError(t, l.Activate(context.Background()))
	return l
}

func TestLedgerRunningBalance(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, actor.NewMemoryStateStore())

	require.NoError(t, l.Credit(ctx, d("10"), "receipt", map[string]string{"movementId": "m-1"}))
	require.NoError(t, l.Debit(ctx, d("4"), "consumption", nil, false))
	assertDec(t, "6", l.Balance())

	entries := l.Entries()
	require.Len(t, entries, 2)
	assertDec(t, "10", entries[0].Delta)
	assertDec(t, "10", entries[0].Balance)
	assertDec(t, "-4", entries[1].Delta)
	assertDec(t, "6", entries[1].Balance)
	assert.Equal(t, "consumption", entries[1].Reason)
}

func TestLedgerDebitBelowZero(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, actor.NewMemoryStateStore())
	require.NoError(t, l.Credit(ctx, d("3"), "receipt", nil))

	err := l.Debit(ctx, d("5"), "consumption", nil, false)
	assert.Error(t, err)
	assertDec(t, "3", l.Balance())

	// With allowNegative the debit goes through
	require.NoError(t, l.Debit(ctx, d("5"), "consumption", nil, true))
	assertDec(t, "-2", l.Balance())
	assert.False(t, l.HasSufficientBalance(d("1")))
}

func TestLedgerAdjustTo(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, actor.NewMemoryStateStore())
	require.NoError(t, l.Credit(ctx, d("10"), "receipt", nil))

	require.NoError(t, l.AdjustTo(ctx, d("7"), "adjustment", nil))
	assertDec(t, "7", l.Balance())

	entries := l.Entries()
	assertDec(t, "-3", entries[len(entries)-1].Delta)
}

func TestLedgerRejectsNegativeQuantities(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, actor.NewMemoryStateStore())
	assert.Error(t, l.Credit(ctx, d("-1"), "receipt", nil))
	assert.Error(t, l.Debit(ctx, d("-1"), "consumption", nil, true))
}

func TestLedgerPersistsAcrossReactivation(t *testing.T) {
	ctx := context.Background()
	store := actor.NewMemoryStateStore()

	first := newLedger(t, store)
	require.NoError(t, first.Credit(ctx, d("10"), "receipt", nil))
	require.NoError(t, first.Debit(ctx, d("4"), "consumption", nil, false))

	second := newLedger(t, store)
	assertDec(t, "6", second.Balance())
	assert.Len(t, second.Entries(), 2)
}
