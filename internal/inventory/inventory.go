package inventory

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/eventlog"
	"github.com/gastroline/backoffice/internal/streams"
)

// Inventory is the event-sourced aggregate for one ingredient at one site.
// Commands validate against in-memory state, raise events, confirm, then
// emit side effects: ledger updates on the subordinate ledger actor and
// stream publishes. Post-commit side-effect failures are logged and
// swallowed; downstream consumers own their retries.
type Inventory struct {
	key  actor.Key
	agg  *eventlog.Aggregate[State]
	host *actor.Host
	bus  streams.Bus

	clock  func() time.Time
	newID  func() string
	logger *log.Logger
}

// FactoryConfig carries the tunables main wires in from the yaml config.
// The zero value uses the package defaults.
type FactoryConfig struct {
	// MovementLogLimit bounds the per-ingredient movement log kept in
	// state; <= 0 means MovementLogLimit.
	MovementLogLimit int
}

// NewFactory returns the factory for inventory actors.
func NewFactory(journal eventlog.JournalStore, host *actor.Host, bus streams.Bus, cfg FactoryConfig) actor.Factory {
	codec := NewCodec()
	transition := NewTransition(cfg.MovementLogLimit)
	return func(key actor.Key) (actor.Actor, error) {
		return &Inventory{
			key:    key,
			agg:    eventlog.NewAggregate[State](key.String(), journal, codec, transition),
			host:   host,
			bus:    bus,
			clock:  time.Now,
			newID:  uuid.NewString,
			logger: log.New(log.Writer(), "[INVENTORY] ", log.LstdFlags),
		}, nil
	}
}

func (inv *Inventory) Activate(ctx context.Context) error {
	return inv.agg.Load(ctx)
}

func (inv *Inventory) Deactivate(context.Context) error { return nil }

func (inv *Inventory) state() *State { return inv.agg.State() }

func (inv *Inventory) requireInit() error {
	if !inv.state().Initialized() {
		return domain.NotInitialized("inventory " + inv.key.String())
	}
	return nil
}

// InitializeParams identifies and configures the ingredient tracked here.
type InitializeParams struct {
	Name         string
	Sku          string
	Unit         string
	Category     string
	ReorderPoint decimal.Decimal
	ParLevel     decimal.Decimal
}

// Initialize must be called once before any other command.
func (inv *Inventory) Initialize(ctx context.Context, p InitializeParams) error {
	if inv.state().Initialized() {
		return domain.Conflict("inventory %s already initialized", inv.key)
	}
	inv.agg.Raise(Initialized{
		OrgID:        inv.key.Org,
		SiteID:       inv.key.Site,
		IngredientID: inv.key.ID,
		Name:         p.Name,
		Sku:          p.Sku,
		Unit:         p.Unit,
		Category:     p.Category,
		ReorderPoint: p.ReorderPoint,
		ParLevel:     p.ParLevel,
		At:           inv.clock().UTC(),
	})
	return inv.agg.ConfirmEvents(ctx)
}

// ReceiveParams describes a stock receipt.
type ReceiveParams struct {
	BatchNumber string
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
	ExpiryDate  *time.Time
	SupplierID  string
	DeliveryID  string
	Location    string
	Notes       string
	SkuID       string
}

// Receive books a receipt. Receipts first cancel any unbatched deficit;
// only the remainder forms a new active batch.
func (inv *Inventory) Receive(ctx context.Context, p ReceiveParams) (ReceiveResult, error) {
	if err := inv.requireInit(); err != nil {
		return ReceiveResult{}, err
	}
	if p.Qty.Sign() <= 0 {
		return ReceiveResult{}, domain.Precondition("receive quantity must be positive, got %s", p.Qty)
	}
	if p.UnitCost.Sign() < 0 {
		return ReceiveResult{}, domain.Precondition("unit cost must be non-negative, got %s", p.UnitCost)
	}

	s := inv.state()
	deficitCancelled := decimal.Min(s.UnbatchedDeficit, p.Qty)
	if deficitCancelled.Sign() < 0 {
		deficitCancelled = decimal.Zero
	}

	ev := StockReceived{
		MovementID:       inv.newID(),
		BatchNumber:      p.BatchNumber,
		Qty:              p.Qty,
		UnitCost:         p.UnitCost,
		DeficitCancelled: deficitCancelled,
		ExpiryDate:       p.ExpiryDate,
		SupplierID:       p.SupplierID,
		DeliveryID:       p.DeliveryID,
		Location:         p.Location,
		Notes:            p.Notes,
		SkuID:            p.SkuID,
		At:               inv.clock().UTC(),
	}
	if p.Qty.Sub(deficitCancelled).Sign() > 0 {
		ev.BatchID = inv.newID()
	}

	inv.agg.Raise(ev)
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return ReceiveResult{}, err
	}

	inv.ledgerCredit(ctx, p.Qty, "receipt", map[string]string{"movementId": ev.MovementID, "batchId": ev.BatchID})
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockReceived, ev.MovementID, p.Qty, p.Qty.Mul(p.UnitCost), nil, "", "")

	return ReceiveResult{BatchID: ev.BatchID, OnHand: inv.state().OnHand, WAC: inv.state().WAC}, nil
}

// Consume draws FIFO over active batches. Consumption beyond batch stock
// becomes unbatched deficit costed at the current WAC; the command never
// refuses service.
func (inv *Inventory) Consume(ctx context.Context, qty decimal.Decimal, reason, orderID, performedBy string) (ConsumptionResult, error) {
	if err := inv.requireInit(); err != nil {
		return ConsumptionResult{}, err
	}
	if qty.Sign() <= 0 {
		return ConsumptionResult{}, domain.Precondition("consume quantity must be positive, got %s", qty)
	}

	s := inv.state()
	prevLevel := s.Level()
	breakdown, drawn, cost := fifoDraw(s.ActiveBatches(), qty)
	deficitAdded := qty.Sub(drawn)
	deficitCost := deficitAdded.Mul(s.WAC)
	totalCost := cost.Add(deficitCost)

	ev := StockConsumed{
		MovementID:      inv.newID(),
		Qty:             qty,
		TotalCost:       totalCost,
		Breakdown:       breakdown,
		DeficitAdded:    deficitAdded,
		DeficitUnitCost: s.WAC,
		Reason:          reason,
		OrderID:         orderID,
		By:              performedBy,
		At:              inv.clock().UTC(),
	}
	inv.agg.Raise(ev)
	alerts := inv.raiseLevelTransitions(prevLevel)

	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return ConsumptionResult{}, err
	}

	inv.ledgerDebit(ctx, qty, "consumption", map[string]string{"movementId": ev.MovementID, "orderId": orderID}, true)
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockConsumed, ev.MovementID, qty, totalCost, breakdown, reason, orderID)
	inv.publishAlerts(ctx, alerts)

	return ConsumptionResult{
		MovementID:          ev.MovementID,
		ConsumedQty:         qty,
		TotalCost:           totalCost,
		Breakdown:           breakdown,
		CostOfGoodsConsumed: totalCost,
		QuantityRemaining:   inv.state().OnHand,
	}, nil
}

// RecordWaste is Consume with waste bookkeeping: movement type Waste,
// ledger reason "waste", StockWrittenOff event.
func (inv *Inventory) RecordWaste(ctx context.Context, qty decimal.Decimal, reason, category, recordedBy string) (ConsumptionResult, error) {
	if err := inv.requireInit(); err != nil {
		return ConsumptionResult{}, err
	}
	if qty.Sign() <= 0 {
		return ConsumptionResult{}, domain.Precondition("waste quantity must be positive, got %s", qty)
	}

	s := inv.state()
	prevLevel := s.Level()
	breakdown, drawn, cost := fifoDraw(s.ActiveBatches(), qty)
	deficitAdded := qty.Sub(drawn)
	totalCost := cost.Add(deficitAdded.Mul(s.WAC))

	ev := StockWrittenOff{
		MovementID:      inv.newID(),
		Qty:             qty,
		TotalCost:       totalCost,
		Breakdown:       breakdown,
		DeficitAdded:    deficitAdded,
		DeficitUnitCost: s.WAC,
		Reason:          reason,
		Category:        category,
		By:              recordedBy,
		At:              inv.clock().UTC(),
	}
	inv.agg.Raise(ev)
	alerts := inv.raiseLevelTransitions(prevLevel)

	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return ConsumptionResult{}, err
	}

	inv.ledgerDebit(ctx, qty, "waste", map[string]string{"movementId": ev.MovementID, "category": category}, true)
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockWrittenOff, ev.MovementID, qty, totalCost, breakdown, reason, "")
	inv.publishAlerts(ctx, alerts)

	return ConsumptionResult{
		MovementID:          ev.MovementID,
		ConsumedQty:         qty,
		TotalCost:           totalCost,
		Breakdown:           breakdown,
		CostOfGoodsConsumed: totalCost,
		QuantityRemaining:   inv.state().OnHand,
	}, nil
}

// AdjustQuantity reconciles on-hand to newQty. Positive variance cancels
// deficit first and books the remainder as an adjustment batch at the
// current WAC; negative variance FIFO-consumes.
func (inv *Inventory) AdjustQuantity(ctx context.Context, newQty decimal.Decimal, reason, by, approvedBy string) error {
	if err := inv.requireInit(); err != nil {
		return err
	}

	s := inv.state()
	variance := newQty.Sub(s.OnHand)

	ev := StockAdjusted{
		MovementID: inv.newID(),
		NewQty:     newQty,
		PrevQty:    s.OnHand,
		Variance:   variance,
		Reason:     reason,
		By:         by,
		ApprovedBy: approvedBy,
		At:         inv.clock().UTC(),
	}

	switch {
	case variance.Sign() > 0:
		ev.DeficitCancelled = decimal.Min(s.UnbatchedDeficit, variance)
		if ev.DeficitCancelled.Sign() < 0 {
			ev.DeficitCancelled = decimal.Zero
		}
		ev.AdjustQty = variance.Sub(ev.DeficitCancelled)
		if ev.AdjustQty.Sign() > 0 {
			ev.AdjustBatchID = inv.newID()
			ev.AdjustUnitCost = s.WAC
		}
	case variance.Sign() < 0:
		breakdown, drawn, _ := fifoDraw(s.ActiveBatches(), variance.Abs())
		ev.Breakdown = breakdown
		ev.DeficitAdded = variance.Abs().Sub(drawn)
	default:
		// no-op adjustment still leaves a movement and ledger entry
	}

	inv.agg.Raise(ev)
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return err
	}

	inv.ledgerAdjustTo(ctx, newQty, "adjustment", map[string]string{"movementId": ev.MovementID, "reason": reason})
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockAdjusted, ev.MovementID, variance.Abs(), decimal.Zero, ev.Breakdown, reason, "")
	return nil
}

// RecordPhysicalCount applies a stock-take count as an adjustment.
func (inv *Inventory) RecordPhysicalCount(ctx context.Context, countedQty decimal.Decimal, by, approvedBy string) error {
	return inv.AdjustQuantity(ctx, countedQty, "physical count", by, approvedBy)
}

// TransferOutResult describes a shipped FIFO draw.
type TransferOutResult struct {
	MovementID string
	TotalCost  decimal.Decimal
	Breakdown  []BatchConsumption
	WAC        decimal.Decimal
}

// TransferOut ships qty to another site. Unlike Consume it never
// overdraws: the command fails when batch stock cannot cover the quantity.
func (inv *Inventory) TransferOut(ctx context.Context, qty decimal.Decimal, destinationSiteID, transferID, by string) (TransferOutResult, error) {
	if err := inv.requireInit(); err != nil {
		return TransferOutResult{}, err
	}
	if qty.Sign() <= 0 {
		return TransferOutResult{}, domain.Precondition("transfer quantity must be positive, got %s", qty)
	}

	s := inv.state()
	wac := s.WAC
	breakdown, drawn, cost := fifoDraw(s.ActiveBatches(), qty)
	if drawn.Cmp(qty) < 0 {
		return TransferOutResult{}, domain.Precondition(
			"insufficient batch stock for transfer: have %s, need %s", drawn, qty)
	}

	ev := StockTransferredOut{
		MovementID:        inv.newID(),
		Qty:               qty,
		TotalCost:         cost,
		Breakdown:         breakdown,
		DestinationSiteID: destinationSiteID,
		TransferID:        transferID,
		By:                by,
		At:                inv.clock().UTC(),
	}
	inv.agg.Raise(ev)
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return TransferOutResult{}, err
	}

	inv.ledgerDebit(ctx, qty, "transfer_out", map[string]string{"movementId": ev.MovementID, "transferId": transferID}, false)
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockTransferredOut, ev.MovementID, qty, cost, breakdown, "", transferID)

	return TransferOutResult{MovementID: ev.MovementID, TotalCost: cost, Breakdown: breakdown, WAC: wac}, nil
}

// ReceiveTransfer books stock arriving from another site, with a
// synthesized batch number when the shipment carries none.
func (inv *Inventory) ReceiveTransfer(ctx context.Context, qty, unitCost decimal.Decimal, sourceSiteID, transferID, batchNumber string) (ReceiveResult, error) {
	if err := inv.requireInit(); err != nil {
		return ReceiveResult{}, err
	}
	if qty.Sign() <= 0 {
		return ReceiveResult{}, domain.Precondition("transfer receipt quantity must be positive, got %s", qty)
	}
	if batchNumber == "" {
		batchNumber = "XFER-" + shortID(transferID)
	}

	s := inv.state()
	deficitCancelled := decimal.Min(s.UnbatchedDeficit, qty)
	if deficitCancelled.Sign() < 0 {
		deficitCancelled = decimal.Zero
	}

	ev := StockReceived{
		MovementID:       inv.newID(),
		BatchNumber:      batchNumber,
		Qty:              qty,
		UnitCost:         unitCost,
		DeficitCancelled: deficitCancelled,
		TransferID:       transferID,
		SourceSiteID:     sourceSiteID,
		At:               inv.clock().UTC(),
	}
	if qty.Sub(deficitCancelled).Sign() > 0 {
		ev.BatchID = inv.newID()
	}

	inv.agg.Raise(ev)
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return ReceiveResult{}, err
	}

	inv.ledgerCredit(ctx, qty, "transfer_in", map[string]string{"movementId": ev.MovementID, "transferId": transferID})
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockReceived, ev.MovementID, qty, qty.Mul(unitCost), nil, "", transferID)

	return ReceiveResult{BatchID: ev.BatchID, OnHand: inv.state().OnHand, WAC: inv.state().WAC}, nil
}

// ReverseConsumption restores the quantity of one consumption movement.
func (inv *Inventory) ReverseConsumption(ctx context.Context, movementID, reason, by string) error {
	if err := inv.requireInit(); err != nil {
		return err
	}

	s := inv.state()
	var found *Movement
	for i := range s.Movements {
		if s.Movements[i].ID == movementID && s.Movements[i].Type == MovementConsumption {
			found = &s.Movements[i]
			break
		}
	}
	if found == nil {
		return domain.NotFound("consumption movement %s", movementID)
	}

	inv.raiseReversal(ConsumptionReversed{
		MovementID:         inv.newID(),
		ReversedMovementID: movementID,
		Qty:                found.Qty,
		Reason:             reason,
		By:                 by,
		At:                 inv.clock().UTC(),
	})
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return err
	}

	inv.ledgerCredit(ctx, found.Qty, "reversal", map[string]string{"reversedMovementId": movementID})
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockAdjusted, movementID, found.Qty, decimal.Zero, nil, reason, "")
	return nil
}

// ReverseOrderConsumption restores every consumption tagged with orderID
// as one aggregated adjustment. Returns the number of movements reversed.
func (inv *Inventory) ReverseOrderConsumption(ctx context.Context, orderID, reason, by string) (int, error) {
	if err := inv.requireInit(); err != nil {
		return 0, err
	}

	s := inv.state()
	total := decimal.Zero
	count := 0
	for _, m := range s.Movements {
		if m.Type == MovementConsumption && m.OrderID == orderID {
			total = total.Add(m.Qty)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}

	inv.raiseReversal(ConsumptionReversed{
		MovementID:    inv.newID(),
		OrderID:       orderID,
		ReversedCount: count,
		Qty:           total,
		Reason:        reason,
		By:            by,
		At:            inv.clock().UTC(),
	})
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return 0, err
	}

	inv.ledgerCredit(ctx, total, "reversal", map[string]string{"orderId": orderID})
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockAdjusted, orderID, total, decimal.Zero, nil, reason, "")
	return count, nil
}

// raiseReversal fills in the deficit-versus-batch split common to both
// reversal commands before raising.
func (inv *Inventory) raiseReversal(ev ConsumptionReversed) {
	s := inv.state()
	ev.DeficitCancelled = decimal.Min(s.UnbatchedDeficit, ev.Qty)
	if ev.DeficitCancelled.Sign() < 0 {
		ev.DeficitCancelled = decimal.Zero
	}
	if ev.Qty.Sub(ev.DeficitCancelled).Sign() > 0 {
		ev.BatchID = inv.newID()
		ev.UnitCost = s.WAC
	}
	inv.agg.Raise(ev)
}

// ExpiredWriteOff summarizes a WriteOffExpiredBatches run.
type ExpiredWriteOff struct {
	BatchIDs  []string
	Qty       decimal.Decimal
	TotalCost decimal.Decimal
}

// WriteOffExpiredBatches zeroes out every active batch past its expiry
// date with a single aggregate write-off. Expired batches are never
// removed automatically; this command is how they leave the books.
func (inv *Inventory) WriteOffExpiredBatches(ctx context.Context, by string) (ExpiredWriteOff, error) {
	if err := inv.requireInit(); err != nil {
		return ExpiredWriteOff{}, err
	}

	now := inv.clock().UTC()
	var ids []string
	qty := decimal.Zero
	cost := decimal.Zero
	for _, b := range inv.state().ActiveBatches() {
		if b.ExpiryDate != nil && b.ExpiryDate.Before(now) {
			ids = append(ids, b.ID)
			qty = qty.Add(b.Qty)
			cost = cost.Add(b.Qty.Mul(b.UnitCost))
		}
	}
	if len(ids) == 0 {
		return ExpiredWriteOff{}, nil
	}

	ev := StockWrittenOff{
		MovementID:      inv.newID(),
		Qty:             qty,
		TotalCost:       cost,
		ExpiredBatchIDs: ids,
		Reason:          "expired",
		By:              by,
		At:              now,
	}
	inv.agg.Raise(ev)
	if err := inv.agg.ConfirmEvents(ctx); err != nil {
		return ExpiredWriteOff{}, err
	}

	inv.ledgerDebit(ctx, qty, "expired_writeoff", map[string]string{"movementId": ev.MovementID}, true)
	inv.publishStock(ctx, streams.NamespaceInventory, StreamTypeStockWrittenOff, ev.MovementID, qty, cost, nil, "expired", "")

	return ExpiredWriteOff{BatchIDs: ids, Qty: qty, TotalCost: cost}, nil
}

// Reserve holds qty against future consumption. Unlike Consume it fails
// when the hold would exceed availability.
func (inv *Inventory) Reserve(ctx context.Context, qty decimal.Decimal, ref, by string) error {
	if err := inv.requireInit(); err != nil {
		return err
	}
	if qty.Sign() <= 0 {
		return domain.Precondition("reservation quantity must be positive, got %s", qty)
	}
	if qty.Cmp(inv.state().Available()) > 0 {
		return domain.Precondition("cannot reserve %s, only %s available", qty, inv.state().Available())
	}
	inv.agg.Raise(StockReserved{Ref: ref, Qty: qty, By: by, At: inv.clock().UTC()})
	return inv.agg.ConfirmEvents(ctx)
}

// ReleaseReservation frees the hold registered under ref.
func (inv *Inventory) ReleaseReservation(ctx context.Context, ref string) error {
	if err := inv.requireInit(); err != nil {
		return err
	}
	qty, ok := inv.state().Reservations[ref]
	if !ok {
		return domain.NotFound("reservation %s", ref)
	}
	inv.agg.Raise(ReservationReleased{Ref: ref, Qty: qty, At: inv.clock().UTC()})
	return inv.agg.ConfirmEvents(ctx)
}

// GetSnapshot returns a copyable read model.
func (inv *Inventory) GetSnapshot() Snapshot {
	s := inv.state()
	batches := make([]StockBatch, len(s.Batches))
	copy(batches, s.Batches)
	movements := make([]Movement, len(s.Movements))
	copy(movements, s.Movements)
	return Snapshot{
		OrgID:            s.OrgID,
		SiteID:           s.SiteID,
		IngredientID:     s.IngredientID,
		Name:             s.Name,
		Sku:              s.Sku,
		Unit:             s.Unit,
		Category:         s.Category,
		ReorderPoint:     s.ReorderPoint,
		ParLevel:         s.ParLevel,
		OnHand:           s.OnHand,
		Reserved:         s.Reserved,
		Available:        s.Available(),
		WAC:              s.WAC,
		UnbatchedDeficit: s.UnbatchedDeficit,
		Level:            s.Level(),
		Batches:          batches,
		Movements:        movements,
	}
}

// fifoDraw walks active batches in receivedAt order, consuming
// min(remaining, batch.qty) at each step.
func fifoDraw(batches []StockBatch, qty decimal.Decimal) (breakdown []BatchConsumption, drawn, cost decimal.Decimal) {
	remaining := qty
	for _, b := range batches {
		if remaining.Sign() <= 0 {
			break
		}
		step := decimal.Min(remaining, b.Qty)
		if step.Sign() <= 0 {
			continue
		}
		stepCost := step.Mul(b.UnitCost)
		breakdown = append(breakdown, BatchConsumption{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Qty:         step,
			UnitCost:    b.UnitCost,
			Cost:        stepCost,
		})
		drawn = drawn.Add(step)
		cost = cost.Add(stepCost)
		remaining = remaining.Sub(step)
	}
	return breakdown, drawn, cost
}

// raiseLevelTransitions compares the stocking band before and after the
// already-raised draw events and raises the alert events for crossings.
// Returns the alert stream payloads to publish after commit.
func (inv *Inventory) raiseLevelTransitions(prev StockLevel) []streams.Event {
	s := inv.state()
	now := inv.clock().UTC()
	level := s.Level()
	var out []streams.Event

	if level == LevelLow && (prev == LevelNormal || prev == LevelAbovePar) {
		inv.agg.Raise(LowStockAlertTriggered{Available: s.Available(), ReorderPoint: s.ReorderPoint, At: now})
		out = append(out, inv.alertEvent(StreamTypeReorderPointBreached, level, now))
	}
	if level == LevelOutOfStock && prev != LevelOutOfStock {
		inv.agg.Raise(StockDepleted{At: now})
		out = append(out, inv.alertEvent(StreamTypeStockDepleted, level, now))
	}
	return out
}

func (inv *Inventory) alertEvent(eventType string, level StockLevel, at time.Time) streams.Event {
	s := inv.state()
	return streams.Event{
		Namespace: streams.NamespaceAlerts,
		Tenant:    s.OrgID,
		Type:      eventType,
		Source:    inv.key.String(),
		Time:      at,
		Data: AlertPayload{
			OrgID:        s.OrgID,
			SiteID:       s.SiteID,
			IngredientID: s.IngredientID,
			Name:         s.Name,
			Available:    s.Available(),
			ReorderPoint: s.ReorderPoint,
			Level:        level,
		},
	}
}

// ============================================================================
// POST-COMMIT SIDE EFFECTS
// ============================================================================

func (inv *Inventory) ledgerKey() actor.Key {
	return actor.LedgerKey(inv.key.Org, inv.key.Site, inv.key.ID)
}

func (inv *Inventory) ledgerCredit(ctx context.Context, qty decimal.Decimal, reason string, meta map[string]string) {
	err := actor.Do(ctx, inv.host, inv.ledgerKey(), func(ctx context.Context, l *Ledger) error {
		return l.Credit(ctx, qty, reason, meta)
	})
	if err != nil {
		inv.logger.Printf("ledger credit failed key=%s reason=%s: %v", inv.key, reason, err)
	}
}

func (inv *Inventory) ledgerDebit(ctx context.Context, qty decimal.Decimal, reason string, meta map[string]string, allowNegative bool) {
	err := actor.Do(ctx, inv.host, inv.ledgerKey(), func(ctx context.Context, l *Ledger) error {
		return l.Debit(ctx, qty, reason, meta, allowNegative)
	})
	if err != nil {
		inv.logger.Printf("ledger debit failed key=%s reason=%s: %v", inv.key, reason, err)
	}
}

func (inv *Inventory) ledgerAdjustTo(ctx context.Context, target decimal.Decimal, reason string, meta map[string]string) {
	err := actor.Do(ctx, inv.host, inv.ledgerKey(), func(ctx context.Context, l *Ledger) error {
		return l.AdjustTo(ctx, target, reason, meta)
	})
	if err != nil {
		inv.logger.Printf("ledger adjust failed key=%s reason=%s: %v", inv.key, reason, err)
	}
}

func (inv *Inventory) publishStock(ctx context.Context, ns, eventType, movementID string, qty, totalCost decimal.Decimal, breakdown []BatchConsumption, reason, transferID string) {
	s := inv.state()
	ev := streams.Event{
		Namespace: ns,
		Tenant:    s.OrgID,
		Type:      eventType,
		Source:    inv.key.String(),
		Time:      inv.clock().UTC(),
		Data: StockEventPayload{
			OrgID:        s.OrgID,
			SiteID:       s.SiteID,
			IngredientID: s.IngredientID,
			MovementID:   movementID,
			Qty:          qty,
			TotalCost:    totalCost,
			Breakdown:    breakdown,
			OnHand:       s.OnHand,
			Available:    s.Available(),
			WAC:          s.WAC,
			Reason:       reason,
			TransferID:   transferID,
		},
	}
	if err := inv.bus.Publish(ctx, ev); err != nil {
		inv.logger.Printf("publish %s failed key=%s: %v", eventType, inv.key, err)
	}
}

func (inv *Inventory) publishAlerts(ctx context.Context, alerts []streams.Event) {
	for _, ev := range alerts {
		if err := inv.bus.Publish(ctx, ev); err != nil {
			inv.logger.Printf("publish %s failed key=%s: %v", ev.Type, inv.key, err)
		}
	}
}
