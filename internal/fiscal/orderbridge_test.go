package fiscal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/idempotency"
	"github.com/gastroline/backoffice/internal/streams"
)

type bridgeFixture struct {
	host *actor.Host
	bus  streams.Bus
	key  actor.Key
}

func newBridgeFixture(t *testing.T, configure bool) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		bus: streams.NewMemoryBus(),
		key: actor.OrderFiscalKey("org1", "site1"),
	}
	store := actor.NewMemoryStateStore()
	f.host = actor.NewHost(nil)
	f.host.Register(actor.KindTse, NewTseFactory(store, f.bus))
	f.host.Register(actor.KindFiscalTransaction, NewTransactionFactory(store, f.host))
	f.host.Register(actor.KindOrderFiscal, NewOrderBridgeFactory(store, f.host, f.bus))
	f.host.Register(actor.KindIdempotency, idempotency.NewFactory(store))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.host.Shutdown(ctx)
	})

	ctx := context.Background()
	err := actor.Do(ctx, f.host, actor.TseKey("org1", "tse-1"),
		func(ctx context.Context, tse *Tse) error {
			return tse.Initialize(ctx, "loc-1")
		})
	require.NoError(t, err)

	// Touching the bridge activates it and registers the order subscription
	err = actor.Do(ctx, f.host, f.key, func(ctx context.Context, b *OrderBridge) error {
		if !configure {
			return nil
		}
		return b.Configure(ctx, "tse-1", "till-1")
	})
	require.NoError(t, err)
	return f
}

func (f *bridgeFixture) publishOrder(t *testing.T, eventType, orderID, siteID string) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(), streams.Event{
		Namespace: streams.NamespaceOrders,
		Tenant:    "org1",
		Type:      eventType,
		Source:    "pos",
		Time:      time.Now().UTC(),
		Data:      OrderPayload{OrderID: orderID, SiteID: siteID, Amounts: testAmounts()},
	}))
}

func (f *bridgeFixture) link(t *testing.T, orderID string) (OrderLink, bool) {
	t.Helper()
	type result struct {
		link OrderLink
		ok   bool
	}
	res, err := actor.Call(context.Background(), f.host, f.key,
		func(ctx context.Context, b *OrderBridge) (result, error) {
			l, ok := b.LinkedTransaction(orderID)
			return result{l, ok}, nil
		})
	require.NoError(t, err)
	return res.link, res.ok
}

func (f *bridgeFixture) waitLinked(t *testing.T, orderID string) OrderLink {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.link(t, orderID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	link, _ := f.link(t, orderID)
	return link
}

func (f *bridgeFixture) signatureCounter(t *testing.T) uint64 {
	t.Helper()
	info, err := actor.Call(context.Background(), f.host, actor.TseKey("org1", "tse-1"),
		func(ctx context.Context, tse *Tse) (Info, error) {
			return tse.GetInfo(), nil
		})
	require.NoError(t, err)
	return info.SignatureCounter
}

func TestOrderBridgeSignsCompletedOrders(t *testing.T) {
	f := newBridgeFixture(t, true)

	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")
	link := f.waitLinked(t, "order-1")

	assert.Equal(t, "ord-order-1", link.TransactionID)
	assert.EqualValues(t, 1, link.TxNumber)
	assert.False(t, link.Voided)

	view, err := actor.Call(context.Background(), f.host, actor.FiscalTransactionKey("org1", "ord-order-1"),
		func(ctx context.Context, tx *Transaction) (TransactionView, error) {
			return tx.View(), nil
		})
	require.NoError(t, err)
	assert.Equal(t, TxSigned, view.Status)
	assert.Equal(t, "order-1", view.OrderID)
	assert.NotEmpty(t, view.SignatureBase64)
}

func TestOrderBridgeRedeliveryIsIdempotent(t *testing.T) {
	f := newBridgeFixture(t, true)

	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")
	f.waitLinked(t, "order-1")

	// At-least-once delivery: the same event arrives again
	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")
	f.publishOrder(t, StreamTypeOrderCompleted, "order-2", "site1")
	f.waitLinked(t, "order-2")

	assert.EqualValues(t, 2, f.signatureCounter(t), "one signature per distinct order")
}

func TestOrderBridgeVoidSignsCompensation(t *testing.T) {
	f := newBridgeFixture(t, true)

	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")
	f.waitLinked(t, "order-1")

	f.publishOrder(t, StreamTypeOrderVoided, "order-1", "site1")
	require.Eventually(t, func() bool {
		link, _ := f.link(t, "order-1")
		return link.Voided
	}, 2*time.Second, 10*time.Millisecond)

	view, err := actor.Call(context.Background(), f.host, actor.FiscalTransactionKey("org1", "ord-order-1-void"),
		func(ctx context.Context, tx *Transaction) (TransactionView, error) {
			return tx.View(), nil
		})
	require.NoError(t, err)
	assert.Equal(t, TxSigned, view.Status)

	// A second void for the same order is a no-op
	f.publishOrder(t, StreamTypeOrderVoided, "order-1", "site1")
	f.publishOrder(t, StreamTypeOrderCompleted, "order-2", "site1")
	f.waitLinked(t, "order-2")
	assert.EqualValues(t, 3, f.signatureCounter(t))
}

func TestOrderBridgeVoidWithoutCompletionIsNoop(t *testing.T) {
	f := newBridgeFixture(t, true)

	f.publishOrder(t, StreamTypeOrderVoided, "order-9", "site1")
	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")
	f.waitLinked(t, "order-1")

	_, ok := f.link(t, "order-9")
	assert.False(t, ok, "nothing to compensate for an order never signed here")
	assert.EqualValues(t, 1, f.signatureCounter(t))
}

func TestOrderBridgeIgnoresOtherSites(t *testing.T) {
	f := newBridgeFixture(t, true)

	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site2")
	f.publishOrder(t, StreamTypeOrderCompleted, "order-2", "site1")
	f.waitLinked(t, "order-2")

	_, ok := f.link(t, "order-1")
	assert.False(t, ok)
}

func TestOrderBridgeUnconfiguredPassesThrough(t *testing.T) {
	f := newBridgeFixture(t, false)

	f.publishOrder(t, StreamTypeOrderCompleted, "order-1", "site1")

	// No TSE bound, the order flows by unsigned
	time.Sleep(50 * time.Millisecond)
	_, ok := f.link(t, "order-1")
	assert.False(t, ok)
	assert.EqualValues(t, 0, f.signatureCounter(t))
}
