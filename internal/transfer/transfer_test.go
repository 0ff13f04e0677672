package transfer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/eventlog"
	"github.com/gastroline/backoffice/internal/inventory"
	"github.com/gastroline/backoffice/internal/streams"
)

// ==== HARNESS ====

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(expected).Equal(actual), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

type transferFixture struct {
	host    *actor.Host
	bus     streams.Bus
	journal eventlog.JournalStore
	tr      *Transfer
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	f := &transferFixture{
		bus:     streams.NewMemoryBus(),
		journal: eventlog.NewMemoryJournalStore(),
	}
	f.host = actor.NewHost(nil)
	f.host.Register(actor.KindInventory, inventory.NewFactory(f.journal, f.host, f.bus, inventory.FactoryConfig{}))
	f.host.Register(actor.KindInventoryLedger, inventory.NewLedgerFactory(actor.NewMemoryStateStore()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.host.Shutdown(ctx)
	})

	factory := NewFactory(f.journal, f.host, f.bus)
	a, err := factory(actor.TransferKey("org1", "site1", "tr-1"))
	require.NoError(t, err)
	f.tr = a.(*Transfer)
	require.NoError(t, f.tr.Activate(context.Background()))
	return f
}

// stockSite initializes an ingredient at a site, optionally receiving stock.
func (f *transferFixture) stockSite(t *testing.T, site, ingredientID, qty, unitCost string) {
	t.Helper()
	err := actor.Do(context.Background(), f.host, actor.InventoryKey("org1", site, ingredientID),
		func(ctx context.Context, inv *inventory.Inventory) error {
			if err := inv.Initialize(ctx, inventory.InitializeParams{Name: ingredientID, Unit: "kg"}); err != nil {
				return err
			}
			if qty == "" {
				return nil
			}
			_, err := inv.Receive(ctx, inventory.ReceiveParams{Qty: d(qty), UnitCost: d(unitCost)})
			return err
		})
	require.NoError(t, err)
}

func (f *transferFixture) onHand(t *testing.T, site, ingredientID string) decimal.Decimal {
	t.Helper()
	snap, err := actor.Call(context.Background(), f.host, actor.InventoryKey("org1", site, ingredientID),
		func(ctx context.Context, inv *inventory.Inventory) (inventory.Snapshot, error) {
			return inv.GetSnapshot(), nil
		})
	require.NoError(t, err)
	return snap.OnHand
}

func (f *transferFixture) request(t *testing.T, lines []RequestedLine) {
	t.Helper()
	require.NoError(t, f.tr.Request(context.Background(), "site2", lines, "chef", "weekly restock"))
}

// ==== STATE MACHINE ====

func TestRequestValidation(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	err := f.tr.Request(ctx, "site2", nil, "chef", "")
	assert.Error(t, err, "needs at least one line")

	err = f.tr.Request(ctx, "site1", []RequestedLine{{IngredientID: "flour", Qty: d("5")}}, "chef", "")
	assert.Error(t, err, "destination must differ from source")

	err = f.tr.Request(ctx, "site2", []RequestedLine{{IngredientID: "flour", Qty: d("0")}}, "chef", "")
	assert.Error(t, err, "line quantities must be positive")

	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("5")}})
	err = f.tr.Request(ctx, "site2", []RequestedLine{{IngredientID: "flour", Qty: d("5")}}, "chef", "")
	assert.True(t, domain.IsConflict(err), "transfer ids are single-use")
}

func TestApproveRequiresRequestedState(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	assert.Error(t, f.tr.Approve(ctx, "manager"), "not yet requested")

	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("5")}})
	require.NoError(t, f.tr.Approve(ctx, "manager"))
	assert.Error(t, f.tr.Approve(ctx, "manager"), "already approved")
	assert.Error(t, f.tr.Reject(ctx, "manager", "late"), "past the decision point")
}

func TestRejectIsTerminal(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("5")}})
	require.NoError(t, f.tr.Reject(ctx, "manager", "not needed"))
	assert.Equal(t, StatusRejected, f.tr.Snapshot().Status)
	assert.Error(t, f.tr.Approve(ctx, "manager"))
	assert.Error(t, f.tr.Cancel(ctx, "manager", "", false))
}

// ==== FULL LIFECYCLE ====

func TestTransferLifecycleWithVariance(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "20", "2.00")
	f.stockSite(t, "site1", "butter", "10", "4.00")
	f.stockSite(t, "site2", "flour", "", "")
	f.stockSite(t, "site2", "butter", "", "")

	f.request(t, []RequestedLine{
		{IngredientID: "flour", Qty: d("10")},
		{IngredientID: "butter", Qty: d("5")},
	})
	require.NoError(t, f.tr.Approve(ctx, "manager"))
	require.NoError(t, f.tr.Ship(ctx, "ops"))

	// Shipment debits the source at its WAC
	assertDec(t, "10", f.onHand(t, "site1", "flour"))
	assertDec(t, "5", f.onHand(t, "site1", "butter"))
	snap := f.tr.Snapshot()
	assert.Equal(t, StatusShipped, snap.Status)
	assertDec(t, "40", snap.TotalShippedValue, "10*2 + 5*4")
	assertDec(t, "2.00", snap.Lines[0].UnitCost)

	// Destination counts: flour arrives complete, one butter is missing
	require.NoError(t, f.tr.ReceiveItem(ctx, "flour", d("10"), "receiver"))
	require.NoError(t, f.tr.ReceiveItem(ctx, "butter", d("4"), "receiver"))
	require.NoError(t, f.tr.FinalizeReceipt(ctx, "receiver"))

	snap = f.tr.Snapshot()
	assert.Equal(t, StatusReceived, snap.Status)
	assertDec(t, "36", snap.TotalReceived, "10*2 + 4*4")
	assertDec(t, "-4", snap.TotalVariance, "one butter at $4 lost in transit")
	assertDec(t, "-1", snap.Lines[1].Variance)

	// Destination stock booked at the shipped unit cost
	assertDec(t, "10", f.onHand(t, "site2", "flour"))
	assertDec(t, "4", f.onHand(t, "site2", "butter"))

	assert.Error(t, f.tr.Cancel(ctx, "manager", "too late", false), "received transfers are immutable")
}

func TestFinalizeTreatsUncountedLinesAsShipped(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "20", "2.00")
	f.stockSite(t, "site2", "flour", "", "")

	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("8")}})
	require.NoError(t, f.tr.Approve(ctx, "manager"))
	require.NoError(t, f.tr.Ship(ctx, "ops"))
	require.NoError(t, f.tr.FinalizeReceipt(ctx, "receiver"))

	snap := f.tr.Snapshot()
	assertDec(t, "0", snap.TotalVariance)
	assertDec(t, "8", f.onHand(t, "site2", "flour"))
}

func TestReceiveItemValidation(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "20", "2.00")
	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("5")}})

	assert.Error(t, f.tr.ReceiveItem(ctx, "flour", d("5"), "receiver"), "not shipped yet")

	require.NoError(t, f.tr.Approve(ctx, "manager"))
	require.NoError(t, f.tr.Ship(ctx, "ops"))

	err := f.tr.ReceiveItem(ctx, "sugar", d("5"), "receiver")
	assert.True(t, domain.IsNotFound(err))
	assert.Error(t, f.tr.ReceiveItem(ctx, "flour", d("-1"), "receiver"))
}

// ==== SHIP FAILURE COMPENSATION ====

func TestShipFailureRestoresDebitedLines(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "10", "2.00")
	f.stockSite(t, "site1", "butter", "2", "4.00")

	f.request(t, []RequestedLine{
		{IngredientID: "flour", Qty: d("5")},
		{IngredientID: "butter", Qty: d("5")}, // only 2 on hand
	})
	require.NoError(t, f.tr.Approve(ctx, "manager"))

	err := f.tr.Ship(ctx, "ops")
	require.Error(t, err, "transfers never overdraw")

	assert.Equal(t, StatusApproved, f.tr.Snapshot().Status, "failed shipment leaves the transfer approved")
	assertDec(t, "10", f.onHand(t, "site1", "flour"), "debited line credited back")
	assertDec(t, "2", f.onHand(t, "site1", "butter"))
}

// ==== CANCELLATION ====

func TestCancelShippedReturnsStock(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "20", "2.00")
	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("8")}})
	require.NoError(t, f.tr.Approve(ctx, "manager"))
	require.NoError(t, f.tr.Ship(ctx, "ops"))
	assertDec(t, "12", f.onHand(t, "site1", "flour"))

	require.NoError(t, f.tr.Cancel(ctx, "manager", "truck broke down", true))
	assert.Equal(t, StatusCancelled, f.tr.Snapshot().Status)
	assertDec(t, "20", f.onHand(t, "site1", "flour"))
}

func TestCancelRequestedNeedsNoStockReturn(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("8")}})
	require.NoError(t, f.tr.Cancel(ctx, "chef", "ordered by mistake", true))
	assert.Equal(t, StatusCancelled, f.tr.Snapshot().Status)
}

// ==== REPLAY ====

func TestTransferReplay(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	f.stockSite(t, "site1", "flour", "20", "2.00")
	f.stockSite(t, "site2", "flour", "", "")
	f.request(t, []RequestedLine{{IngredientID: "flour", Qty: d("10")}})
	require.NoError(t, f.tr.Approve(ctx, "manager"))
	require.NoError(t, f.tr.Ship(ctx, "ops"))
	require.NoError(t, f.tr.ReceiveItem(ctx, "flour", d("9"), "receiver"))
	require.NoError(t, f.tr.FinalizeReceipt(ctx, "receiver"))

	factory := NewFactory(f.journal, f.host, f.bus)
	a, err := factory(actor.TransferKey("org1", "site1", "tr-1"))
	require.NoError(t, err)
	replayed := a.(*Transfer)
	require.NoError(t, replayed.Activate(ctx))

	// Compare through json: equal decimals can carry different exponents
	// depending on whether they were parsed or computed.
	want, err := json.Marshal(f.tr.Snapshot())
	require.NoError(t, err)
	got, err := json.Marshal(replayed.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}
