package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/eventlog"
)

// State is the inventory aggregate's replayable state. It is only mutated
// through the transition function built by NewTransition.
type State struct {
	OrgID        string          `json:"orgId"`
	SiteID       string          `json:"siteId"`
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	Sku          string          `json:"sku"`
	Unit         string          `json:"unit"`
	Category     string          `json:"category"`
	ReorderPoint decimal.Decimal `json:"reorderPoint"`
	ParLevel     decimal.Decimal `json:"parLevel"`

	Batches          []StockBatch               `json:"batches"`
	UnbatchedDeficit decimal.Decimal            `json:"unbatchedDeficit"`
	Reservations     map[string]decimal.Decimal `json:"reservations,omitempty"`
	Reserved         decimal.Decimal            `json:"reserved"`
	OnHand           decimal.Decimal            `json:"onHand"`
	WAC              decimal.Decimal            `json:"wac"`
	Movements        []Movement                 `json:"movements,omitempty"`
}

// Initialized reports whether the aggregate has been set up.
func (s *State) Initialized() bool { return s.IngredientID != "" }

// Available is on-hand minus reservations.
func (s *State) Available() decimal.Decimal { return s.OnHand.Sub(s.Reserved) }

// Level classifies current availability.
func (s *State) Level() StockLevel {
	return DeriveLevel(s.Available(), s.ReorderPoint, s.ParLevel)
}

// ActiveBatches returns the active batches in FIFO (receivedAt) order.
// Batches are appended in receipt order, so journal order is FIFO order.
func (s *State) ActiveBatches() []StockBatch {
	out := make([]StockBatch, 0, len(s.Batches))
	for _, b := range s.Batches {
		if b.Status == BatchActive {
			out = append(out, b)
		}
	}
	return out
}

// recompute re-derives on-hand and WAC from the batch list:
// onHand = Σ active.qty − deficit; WAC = Σ(active.qty·unitCost)/onHand
// when onHand > 0, else 0.
func (s *State) recompute() {
	qty := decimal.Zero
	value := decimal.Zero
	for _, b := range s.Batches {
		if b.Status == BatchActive {
			qty = qty.Add(b.Qty)
			value = value.Add(b.Qty.Mul(b.UnitCost))
		}
	}
	s.OnHand = qty.Sub(s.UnbatchedDeficit)
	if s.OnHand.Sign() > 0 {
		s.WAC = value.Div(s.OnHand)
	} else {
		s.WAC = decimal.Zero
	}
}

func (s *State) appendMovement(m Movement) {
	s.Movements = append(s.Movements, m)
}

func (s *State) trimMovements(limit int) {
	if len(s.Movements) > limit {
		s.Movements = s.Movements[len(s.Movements)-limit:]
	}
}

// applyDraw reduces batch quantities per the recorded FIFO breakdown.
func (s *State) applyDraw(breakdown []BatchConsumption) {
	for _, bc := range breakdown {
		for i := range s.Batches {
			if s.Batches[i].ID != bc.BatchID {
				continue
			}
			s.Batches[i].Qty = s.Batches[i].Qty.Sub(bc.Qty)
			s.Batches[i].TotalCost = s.Batches[i].Qty.Mul(s.Batches[i].UnitCost)
			if s.Batches[i].Qty.Sign() == 0 {
				s.Batches[i].Status = BatchExhausted
			}
			break
		}
	}
}

// NewTransition returns the event-apply function, keeping at most limit
// movement entries in state; limit <= 0 falls back to MovementLogLimit.
func NewTransition(limit int) func(*State, eventlog.Event) {
	if limit <= 0 {
		limit = MovementLogLimit
	}
	return func(s *State, ev eventlog.Event) {
		applyEvent(s, ev)
		s.trimMovements(limit)
	}
}

// applyEvent mutates state for one journal event. Pure: all ids and
// timestamps come from the event.
func applyEvent(s *State, ev eventlog.Event) {
	switch e := ev.(type) {
	case Initialized:
		s.OrgID = e.OrgID
		s.SiteID = e.SiteID
		s.IngredientID = e.IngredientID
		s.Name = e.Name
		s.Sku = e.Sku
		s.Unit = e.Unit
		s.Category = e.Category
		s.ReorderPoint = e.ReorderPoint
		s.ParLevel = e.ParLevel
		s.Reservations = make(map[string]decimal.Decimal)

	case StockReceived:
		s.UnbatchedDeficit = s.UnbatchedDeficit.Sub(e.DeficitCancelled)
		if e.BatchID != "" {
			batchQty := e.Qty.Sub(e.DeficitCancelled)
			s.Batches = append(s.Batches, StockBatch{
				ID:          e.BatchID,
				BatchNumber: e.BatchNumber,
				ReceivedAt:  e.At,
				ExpiryDate:  e.ExpiryDate,
				Qty:         batchQty,
				OriginalQty: e.Qty,
				UnitCost:    e.UnitCost,
				TotalCost:   batchQty.Mul(e.UnitCost),
				Status:      BatchActive,
				SupplierID:  e.SupplierID,
				DeliveryID:  e.DeliveryID,
				Location:    e.Location,
				SkuID:       e.SkuID,
			})
		}
		mtype := MovementReceipt
		if e.TransferID != "" {
			mtype = MovementTransferIn
		}
		s.appendMovement(Movement{
			ID: e.MovementID, Type: mtype, Qty: e.Qty,
			TotalCost: e.Qty.Mul(e.UnitCost), BatchID: e.BatchID, At: e.At,
		})
		s.recompute()

	case StockConsumed:
		s.applyDraw(e.Breakdown)
		s.UnbatchedDeficit = s.UnbatchedDeficit.Add(e.DeficitAdded)
		s.appendMovement(Movement{
			ID: e.MovementID, Type: MovementConsumption, Qty: e.Qty,
			TotalCost: e.TotalCost, Reason: e.Reason, OrderID: e.OrderID,
			By: e.By, At: e.At,
		})
		s.recompute()

	case StockWrittenOff:
		if len(e.ExpiredBatchIDs) > 0 {
			for _, id := range e.ExpiredBatchIDs {
				for i := range s.Batches {
					if s.Batches[i].ID == id {
						s.Batches[i].Qty = decimal.Zero
						s.Batches[i].TotalCost = decimal.Zero
						s.Batches[i].Status = BatchWrittenOff
						break
					}
				}
			}
			s.appendMovement(Movement{
				ID: e.MovementID, Type: MovementWriteOff, Qty: e.Qty,
				TotalCost: e.TotalCost, Reason: e.Reason, By: e.By, At: e.At,
			})
		} else {
			s.applyDraw(e.Breakdown)
			s.UnbatchedDeficit = s.UnbatchedDeficit.Add(e.DeficitAdded)
			s.appendMovement(Movement{
				ID: e.MovementID, Type: MovementWaste, Qty: e.Qty,
				TotalCost: e.TotalCost, Reason: e.Reason, By: e.By, At: e.At,
			})
		}
		s.recompute()

	case StockAdjusted:
		s.UnbatchedDeficit = s.UnbatchedDeficit.Sub(e.DeficitCancelled)
		if e.AdjustBatchID != "" {
			s.Batches = append(s.Batches, StockBatch{
				ID:          e.AdjustBatchID,
				BatchNumber: "ADJ-" + shortID(e.AdjustBatchID),
				ReceivedAt:  e.At,
				Qty:         e.AdjustQty,
				OriginalQty: e.AdjustQty,
				UnitCost:    e.AdjustUnitCost,
				TotalCost:   e.AdjustQty.Mul(e.AdjustUnitCost),
				Status:      BatchActive,
			})
		}
		s.applyDraw(e.Breakdown)
		s.UnbatchedDeficit = s.UnbatchedDeficit.Add(e.DeficitAdded)
		s.appendMovement(Movement{
			ID: e.MovementID, Type: MovementAdjustment, Qty: e.Variance.Abs(),
			Reason: e.Reason, By: e.By, At: e.At,
		})
		s.recompute()

	case StockTransferredOut:
		s.applyDraw(e.Breakdown)
		s.appendMovement(Movement{
			ID: e.MovementID, Type: MovementTransferOut, Qty: e.Qty,
			TotalCost: e.TotalCost, Reason: "transfer:" + e.TransferID,
			By: e.By, At: e.At,
		})
		s.recompute()

	case ConsumptionReversed:
		s.UnbatchedDeficit = s.UnbatchedDeficit.Sub(e.DeficitCancelled)
		if e.BatchID != "" {
			qty := e.Qty.Sub(e.DeficitCancelled)
			s.Batches = append(s.Batches, StockBatch{
				ID:          e.BatchID,
				BatchNumber: "REV-" + shortID(e.BatchID),
				ReceivedAt:  e.At,
				Qty:         qty,
				OriginalQty: qty,
				UnitCost:    e.UnitCost,
				TotalCost:   qty.Mul(e.UnitCost),
				Status:      BatchActive,
			})
		}
		s.appendMovement(Movement{
			ID: e.MovementID, Type: MovementAdjustment, Qty: e.Qty,
			Reason: e.Reason, OrderID: e.OrderID, By: e.By, At: e.At,
		})
		s.recompute()

	case StockReserved:
		if s.Reservations == nil {
			s.Reservations = make(map[string]decimal.Decimal)
		}
		s.Reservations[e.Ref] = s.Reservations[e.Ref].Add(e.Qty)
		s.Reserved = s.Reserved.Add(e.Qty)

	case ReservationReleased:
		delete(s.Reservations, e.Ref)
		s.Reserved = s.Reserved.Sub(e.Qty)

	case LowStockAlertTriggered, StockDepleted:
		// marker events; no state change
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
