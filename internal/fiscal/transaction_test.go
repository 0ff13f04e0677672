package fiscal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

type txFixture struct {
	host  *actor.Host
	store actor.StateStore
	bus   *captureBus
	tx    *Transaction
}

func newTxFixture(t *testing.T) *txFixture {
	t.Helper()
	f := &txFixture{
		store: actor.NewMemoryStateStore(),
		bus:   &captureBus{},
	}
	f.host = actor.NewHost(nil)
	f.host.Register(actor.KindTse, NewTseFactory(f.store, f.bus))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.host.Shutdown(ctx)
	})

	err := actor.Do(context.Background(), f.host, actor.TseKey("org1", "tse-1"),
		func(ctx context.Context, tse *Tse) error {
			return tse.Initialize(ctx, "loc-1")
		})
	require.NoError(t, err)

	factory := NewTransactionFactory(f.store, f.host)
	a, err := factory(actor.FiscalTransactionKey("org1", "ftx-1"))
	require.NoError(t, err)
	f.tx = a.(*Transaction)
	require.NoError(t, f.tx.Activate(context.Background()))
	return f
}

func testAmounts() Amounts {
	return Amounts{
		Gross:    decimal.RequireFromString("11.90"),
		Net:      map[string]decimal.Decimal{TaxNormal: decimal.RequireFromString("10.00")},
		Tax:      map[string]decimal.Decimal{TaxNormal: decimal.RequireFromString("1.90")},
		Payments: map[string]decimal.Decimal{PaymentCash: decimal.RequireFromString("11.90")},
	}
}

func TestTransactionOpenAllocatesNumberOnce(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))

	view := f.tx.View()
	assert.Equal(t, TxPending, view.Status)
	assert.EqualValues(t, 1, view.TransactionNumber)
	assert.Equal(t, "11.90^NORMAL:10.00^NORMAL:1.90^CASH:11.90", view.ProcessData)

	err := f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1")
	assert.True(t, domain.IsConflict(err), "the device number is allocated exactly once")
}

func TestTransactionSignIsOneShot(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))

	res, err := f.tx.Sign(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SignatureBase64)
	assert.EqualValues(t, 1, res.SignatureCounter)

	view := f.tx.View()
	assert.Equal(t, TxSigned, view.Status)
	assert.Equal(t, res.QRCode, view.QRCode)

	_, err = f.tx.Sign(ctx)
	assert.True(t, domain.IsConflict(err))
}

func TestTransactionSignFailureMovesToRetrying(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))

	// Losing the TSE-side context makes FinishTransaction fail
	err := actor.Do(ctx, f.host, actor.TseKey("org1", "tse-1"),
		func(ctx context.Context, tse *Tse) error {
			delete(tse.slot.State.Active, f.tx.View().TransactionNumber)
			return nil
		})
	require.NoError(t, err)

	_, err = f.tx.Sign(ctx)
	require.Error(t, err)

	view := f.tx.View()
	assert.Equal(t, TxRetrying, view.Status)
	assert.Equal(t, 1, view.RetryCount)
	assert.NotEmpty(t, view.FailureReason)
}

func TestTransactionFail(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))
	require.NoError(t, f.tx.Fail(ctx, "till unreachable"))

	view := f.tx.View()
	assert.Equal(t, TxFailed, view.Status)
	assert.Equal(t, "till unreachable", view.FailureReason)
}

func TestTransactionFailAfterSignedRejected(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))
	_, err := f.tx.Sign(ctx)
	require.NoError(t, err)

	assert.Error(t, f.tx.Fail(ctx, "too late"))
}

func TestTransactionMarkExported(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))
	assert.Error(t, f.tx.MarkExported(ctx), "export requires a signed envelope")

	_, err := f.tx.Sign(ctx)
	require.NoError(t, err)

	require.NoError(t, f.tx.MarkExported(ctx))
	first := f.tx.View().ExportedAt
	require.NotNil(t, first)

	// Marking again is a no-op, the original timestamp stands
	require.NoError(t, f.tx.MarkExported(ctx))
	assert.Equal(t, first, f.tx.View().ExportedAt)
}

func TestTransactionStateSurvivesReactivation(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tx.Open(ctx, "tse-1", "order-1", ProcessTypeReceipt, testAmounts(), "till-1"))
	_, err := f.tx.Sign(ctx)
	require.NoError(t, err)

	factory := NewTransactionFactory(f.store, f.host)
	a, err := factory(actor.FiscalTransactionKey("org1", "ftx-1"))
	require.NoError(t, err)
	revived := a.(*Transaction)
	require.NoError(t, revived.Activate(ctx))

	assert.Equal(t, f.tx.View(), revived.View())
}
