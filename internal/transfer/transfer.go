// Package transfer implements the inter-site stock transfer workflow as an
// event-sourced state machine. The actor's key site is the source site;
// shipping and cancellation compensation run against source inventory,
// receipt runs against destination inventory.
package transfer

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/eventlog"
	"github.com/gastroline/backoffice/internal/inventory"
	"github.com/gastroline/backoffice/internal/streams"
)

const (
	StreamTypeShipped  = "TransferShippedEvent"
	StreamTypeReceived = "TransferReceivedEvent"
)

// Transfer is the inter-site transfer aggregate actor.
type Transfer struct {
	key  actor.Key
	agg  *eventlog.Aggregate[State]
	host *actor.Host
	bus  streams.Bus

	clock  func() time.Time
	logger *log.Logger
}

// NewFactory returns the factory for transfer actors.
func NewFactory(journal eventlog.JournalStore, host *actor.Host, bus streams.Bus) actor.Factory {
	codec := NewCodec()
	return func(key actor.Key) (actor.Actor, error) {
		return &Transfer{
			key:    key,
			agg:    eventlog.NewAggregate[State](key.String(), journal, codec, Transition),
			host:   host,
			bus:    bus,
			clock:  time.Now,
			logger: log.New(log.Writer(), "[TRANSFER] ", log.LstdFlags),
		}, nil
	}
}

func (t *Transfer) Activate(ctx context.Context) error { return t.agg.Load(ctx) }

func (t *Transfer) Deactivate(context.Context) error { return nil }

func (t *Transfer) state() *State { return t.agg.State() }

func (t *Transfer) requireStatus(want Status) error {
	if !t.state().Initialized() {
		return domain.NotInitialized("transfer " + t.key.String())
	}
	if t.state().Status != want {
		return domain.InvalidTransition("transfer %s is %s, expected %s", t.key.ID, t.state().Status, want)
	}
	return nil
}

// Request opens a transfer from the actor's site to destinationSiteID.
func (t *Transfer) Request(ctx context.Context, destinationSiteID string, lines []RequestedLine, by, notes string) error {
	if t.state().Initialized() {
		return domain.Conflict("transfer %s already exists", t.key.ID)
	}
	if len(lines) == 0 {
		return domain.Precondition("transfer requires at least one line")
	}
	if destinationSiteID == "" || destinationSiteID == t.key.Site {
		return domain.Precondition("destination site must differ from source site %s", t.key.Site)
	}
	for _, l := range lines {
		if l.Qty.Sign() <= 0 {
			return domain.Precondition("line %s quantity must be positive, got %s", l.IngredientID, l.Qty)
		}
	}

	t.agg.Raise(Requested{
		SourceSiteID:      t.key.Site,
		DestinationSiteID: destinationSiteID,
		Lines:             lines,
		RequestedBy:       by,
		Notes:             notes,
		At:                t.clock().UTC(),
	})
	return t.agg.ConfirmEvents(ctx)
}

func (t *Transfer) Approve(ctx context.Context, by string) error {
	if err := t.requireStatus(StatusRequested); err != nil {
		return err
	}
	t.agg.Raise(Approved{By: by, At: t.clock().UTC()})
	return t.agg.ConfirmEvents(ctx)
}

func (t *Transfer) Reject(ctx context.Context, by, reason string) error {
	if err := t.requireStatus(StatusRequested); err != nil {
		return err
	}
	t.agg.Raise(Rejected{By: by, Reason: reason, At: t.clock().UTC()})
	return t.agg.ConfirmEvents(ctx)
}

// Ship debits source inventory per line and records the source WAC as the
// line's unit cost. If a line fails, already-debited lines are credited
// back before returning the error.
func (t *Transfer) Ship(ctx context.Context, by string) error {
	if err := t.requireStatus(StatusApproved); err != nil {
		return err
	}

	s := t.state()
	shipped := make([]ShippedLine, 0, len(s.Lines))
	total := decimal.Zero
	for _, line := range s.Lines {
		res, err := actor.Call(ctx, t.host, t.sourceKey(line.IngredientID),
			func(ctx context.Context, inv *inventory.Inventory) (inventory.TransferOutResult, error) {
				return inv.TransferOut(ctx, line.RequestedQty, s.DestinationSiteID, t.key.ID, by)
			})
		if err != nil {
			t.compensateShipped(ctx, shipped)
			return err
		}
		cost := line.RequestedQty.Mul(res.WAC)
		shipped = append(shipped, ShippedLine{
			IngredientID: line.IngredientID,
			Qty:          line.RequestedQty,
			UnitCost:     res.WAC,
			Cost:         cost,
		})
		total = total.Add(cost)
	}

	t.agg.Raise(Shipped{Lines: shipped, TotalShippedValue: total, By: by, At: t.clock().UTC()})
	if err := t.agg.ConfirmEvents(ctx); err != nil {
		return err
	}

	t.publish(ctx, StreamTypeShipped)
	return nil
}

// ReceiveItem records a per-line count at the destination.
func (t *Transfer) ReceiveItem(ctx context.Context, ingredientID string, receivedQty decimal.Decimal, by string) error {
	if err := t.requireStatus(StatusShipped); err != nil {
		return err
	}
	if receivedQty.Sign() < 0 {
		return domain.Precondition("received quantity must be non-negative, got %s", receivedQty)
	}
	if t.state().line(ingredientID) == nil {
		return domain.NotFound("transfer line %s", ingredientID)
	}
	t.agg.Raise(ItemCountRecorded{IngredientID: ingredientID, ReceivedQty: receivedQty, By: by, At: t.clock().UTC()})
	return t.agg.ConfirmEvents(ctx)
}

// FinalizeReceipt treats uncounted lines as received exactly as shipped,
// credits destination inventory at the shipped unit cost and closes the
// transfer.
func (t *Transfer) FinalizeReceipt(ctx context.Context, by string) error {
	if err := t.requireStatus(StatusShipped); err != nil {
		return err
	}

	s := t.state()
	finalLines := make([]ReceivedLine, 0, len(s.Lines))
	totalReceived := decimal.Zero
	totalVariance := decimal.Zero
	for _, line := range s.Lines {
		received := line.ReceivedQty
		if !line.CountRecorded {
			received = line.ShippedQty
		}
		variance := received.Sub(line.ShippedQty)
		finalLines = append(finalLines, ReceivedLine{
			IngredientID:  line.IngredientID,
			ReceivedQty:   received,
			Variance:      variance,
			VarianceValue: variance.Mul(line.UnitCost),
		})
		totalReceived = totalReceived.Add(received.Mul(line.UnitCost))
		totalVariance = totalVariance.Add(variance.Mul(line.UnitCost))
	}

	for _, fl := range finalLines {
		if fl.ReceivedQty.Sign() <= 0 {
			continue
		}
		line := s.line(fl.IngredientID)
		_, err := actor.Call(ctx, t.host, t.destinationKey(fl.IngredientID),
			func(ctx context.Context, inv *inventory.Inventory) (inventory.ReceiveResult, error) {
				return inv.ReceiveTransfer(ctx, fl.ReceivedQty, line.UnitCost, s.SourceSiteID, t.key.ID, "")
			})
		if err != nil {
			return err
		}
	}

	t.agg.Raise(ReceiptFinalized{
		Lines:              finalLines,
		TotalReceivedValue: totalReceived,
		TotalVarianceValue: totalVariance,
		By:                 by,
		At:                 t.clock().UTC(),
	})
	if err := t.agg.ConfirmEvents(ctx); err != nil {
		return err
	}

	t.publish(ctx, StreamTypeReceived)
	return nil
}

// Cancel aborts a not-yet-received transfer. From Shipped, returnStock
// credits the debited quantities back to the source at the shipped cost.
func (t *Transfer) Cancel(ctx context.Context, by, reason string, returnStock bool) error {
	if !t.state().Initialized() {
		return domain.NotInitialized("transfer " + t.key.String())
	}
	s := t.state()
	if !canTransition(s.Status, StatusCancelled) {
		return domain.InvalidTransition("cannot cancel transfer %s in state %s", t.key.ID, s.Status)
	}

	returned := false
	if s.Status == StatusShipped && returnStock {
		t.returnStockToSource(ctx, s)
		returned = true
	}

	t.agg.Raise(Cancelled{By: by, Reason: reason, StockReturned: returned, At: t.clock().UTC()})
	return t.agg.ConfirmEvents(ctx)
}

// Snapshot returns a copy of the transfer state.
func (t *Transfer) Snapshot() State {
	s := *t.state()
	s.Lines = make([]Line, len(t.state().Lines))
	copy(s.Lines, t.state().Lines)
	return s
}

func (t *Transfer) sourceKey(ingredientID string) actor.Key {
	return actor.InventoryKey(t.key.Org, t.key.Site, ingredientID)
}

func (t *Transfer) destinationKey(ingredientID string) actor.Key {
	return actor.InventoryKey(t.key.Org, t.state().DestinationSiteID, ingredientID)
}

// compensateShipped credits back lines debited before a mid-ship failure.
func (t *Transfer) compensateShipped(ctx context.Context, shipped []ShippedLine) {
	for _, sl := range shipped {
		err := actor.Do(ctx, t.host, t.sourceKey(sl.IngredientID),
			func(ctx context.Context, inv *inventory.Inventory) error {
				_, err := inv.ReceiveTransfer(ctx, sl.Qty, sl.UnitCost, t.key.Site, t.key.ID, "RET-"+t.key.ID)
				return err
			})
		if err != nil {
			t.logger.Printf("ship compensation failed transfer=%s ingredient=%s: %v", t.key.ID, sl.IngredientID, err)
		}
	}
}

// returnStockToSource compensates a cancelled shipment. Failures are logged;
// the cancellation proceeds regardless and the discrepancy surfaces at the
// next stock take.
func (t *Transfer) returnStockToSource(ctx context.Context, s *State) {
	for _, line := range s.Lines {
		if line.ShippedQty.Sign() <= 0 {
			continue
		}
		qty, unitCost := line.ShippedQty, line.UnitCost
		err := actor.Do(ctx, t.host, t.sourceKey(line.IngredientID),
			func(ctx context.Context, inv *inventory.Inventory) error {
				_, err := inv.ReceiveTransfer(ctx, qty, unitCost, t.key.Site, t.key.ID, "RET-"+t.key.ID)
				return err
			})
		if err != nil {
			t.logger.Printf("stock return failed transfer=%s ingredient=%s: %v", t.key.ID, line.IngredientID, err)
		}
	}
}

func (t *Transfer) publish(ctx context.Context, eventType string) {
	s := t.state()
	ev := streams.Event{
		Namespace: streams.NamespaceInventory,
		Tenant:    t.key.Org,
		Type:      eventType,
		Source:    t.key.String(),
		Time:      t.clock().UTC(),
		Data: map[string]any{
			"transferId":         t.key.ID,
			"sourceSiteId":       s.SourceSiteID,
			"destinationSiteId":  s.DestinationSiteID,
			"status":             s.Status,
			"totalShippedValue":  s.TotalShippedValue,
			"totalReceivedValue": s.TotalReceived,
			"totalVarianceValue": s.TotalVariance,
		},
	}
	if err := t.bus.Publish(ctx, ev); err != nil {
		t.logger.Printf("publish %s failed transfer=%s: %v", eventType, t.key.ID, err)
	}
}
