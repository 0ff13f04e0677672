package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/eventlog"
)

// Journal events. Each carries everything replay needs: generated ids,
// timestamps and the FIFO breakdown computed by the command handler, so
// transitions stay pure.

type Initialized struct {
	OrgID        string          `json:"orgId"`
	SiteID       string          `json:"siteId"`
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	Sku          string          `json:"sku"`
	Unit         string          `json:"unit"`
	Category     string          `json:"category"`
	ReorderPoint decimal.Decimal `json:"reorderPoint"`
	ParLevel     decimal.Decimal `json:"parLevel"`
	At           time.Time       `json:"at"`
}

func (Initialized) EventType() string { return "inventory.Initialized" }

// StockReceived covers supplier receipts and inbound transfers. The deficit
// portion of the receipt cancels UnbatchedDeficit; only the remainder forms
// a batch.
type StockReceived struct {
	MovementID       string          `json:"movementId"`
	BatchID          string          `json:"batchId,omitempty"`
	BatchNumber      string          `json:"batchNumber"`
	Qty              decimal.Decimal `json:"qty"`
	UnitCost         decimal.Decimal `json:"unitCost"`
	DeficitCancelled decimal.Decimal `json:"deficitCancelled"`
	ExpiryDate       *time.Time      `json:"expiryDate,omitempty"`
	SupplierID       string          `json:"supplierId,omitempty"`
	DeliveryID       string          `json:"deliveryId,omitempty"`
	Location         string          `json:"location,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	SkuID            string          `json:"skuId,omitempty"`
	TransferID       string          `json:"transferId,omitempty"`
	SourceSiteID     string          `json:"sourceSiteId,omitempty"`
	At               time.Time       `json:"at"`
}

func (StockReceived) EventType() string { return "inventory.StockReceived" }

// StockConsumed is a FIFO draw for consumption. DeficitAdded is the portion
// beyond batch stock, costed at DeficitUnitCost (the WAC at command time).
type StockConsumed struct {
	MovementID      string             `json:"movementId"`
	Qty             decimal.Decimal    `json:"qty"`
	TotalCost       decimal.Decimal    `json:"totalCost"`
	Breakdown       []BatchConsumption `json:"breakdown"`
	DeficitAdded    decimal.Decimal    `json:"deficitAdded"`
	DeficitUnitCost decimal.Decimal    `json:"deficitUnitCost"`
	Reason          string             `json:"reason"`
	OrderID         string             `json:"orderId,omitempty"`
	By              string             `json:"by,omitempty"`
	At              time.Time          `json:"at"`
}

func (StockConsumed) EventType() string { return "inventory.StockConsumed" }

// StockWrittenOff covers waste recording and expired-batch write-offs.
// For waste, Breakdown/DeficitAdded mirror StockConsumed; for expiry
// write-offs ExpiredBatchIDs lists the batches zeroed out.
type StockWrittenOff struct {
	MovementID      string             `json:"movementId"`
	Qty             decimal.Decimal    `json:"qty"`
	TotalCost       decimal.Decimal    `json:"totalCost"`
	Breakdown       []BatchConsumption `json:"breakdown,omitempty"`
	DeficitAdded    decimal.Decimal    `json:"deficitAdded"`
	DeficitUnitCost decimal.Decimal    `json:"deficitUnitCost"`
	ExpiredBatchIDs []string           `json:"expiredBatchIds,omitempty"`
	Reason          string             `json:"reason"`
	Category        string             `json:"category,omitempty"`
	By              string             `json:"by,omitempty"`
	At              time.Time          `json:"at"`
}

func (StockWrittenOff) EventType() string { return "inventory.StockWrittenOff" }

// StockAdjusted reconciles on-hand to a counted quantity. Positive variance
// first cancels deficit, then creates an adjustment batch at AdjustUnitCost;
// negative variance FIFO-consumes through Breakdown.
type StockAdjusted struct {
	MovementID       string             `json:"movementId"`
	NewQty           decimal.Decimal    `json:"newQty"`
	PrevQty          decimal.Decimal    `json:"prevQty"`
	Variance         decimal.Decimal    `json:"variance"`
	DeficitCancelled decimal.Decimal    `json:"deficitCancelled"`
	AdjustBatchID    string             `json:"adjustBatchId,omitempty"`
	AdjustQty        decimal.Decimal    `json:"adjustQty"`
	AdjustUnitCost   decimal.Decimal    `json:"adjustUnitCost"`
	Breakdown        []BatchConsumption `json:"breakdown,omitempty"`
	DeficitAdded     decimal.Decimal    `json:"deficitAdded"`
	Reason           string             `json:"reason"`
	By               string             `json:"by,omitempty"`
	ApprovedBy       string             `json:"approvedBy,omitempty"`
	At               time.Time          `json:"at"`
}

func (StockAdjusted) EventType() string { return "inventory.StockAdjusted" }

// StockTransferredOut is a FIFO draw shipped to another site. Transfers out
// never overdraw: the command fails rather than adding deficit.
type StockTransferredOut struct {
	MovementID        string             `json:"movementId"`
	Qty               decimal.Decimal    `json:"qty"`
	TotalCost         decimal.Decimal    `json:"totalCost"`
	Breakdown         []BatchConsumption `json:"breakdown"`
	DestinationSiteID string             `json:"destinationSiteId"`
	TransferID        string             `json:"transferId"`
	By                string             `json:"by,omitempty"`
	At                time.Time          `json:"at"`
}

func (StockTransferredOut) EventType() string { return "inventory.StockTransferredOut" }

// ConsumptionReversed restores a previously consumed quantity: deficit is
// cancelled first, the remainder forms an adjustment batch at the WAC
// captured in the event.
type ConsumptionReversed struct {
	MovementID         string          `json:"movementId"`
	ReversedMovementID string          `json:"reversedMovementId,omitempty"`
	OrderID            string          `json:"orderId,omitempty"`
	ReversedCount      int             `json:"reversedCount,omitempty"`
	Qty                decimal.Decimal `json:"qty"`
	DeficitCancelled   decimal.Decimal `json:"deficitCancelled"`
	BatchID            string          `json:"batchId,omitempty"`
	UnitCost           decimal.Decimal `json:"unitCost"`
	Reason             string          `json:"reason"`
	By                 string          `json:"by,omitempty"`
	At                 time.Time       `json:"at"`
}

func (ConsumptionReversed) EventType() string { return "inventory.ConsumptionReversed" }

type StockReserved struct {
	Ref string          `json:"ref"`
	Qty decimal.Decimal `json:"qty"`
	By  string          `json:"by,omitempty"`
	At  time.Time       `json:"at"`
}

func (StockReserved) EventType() string { return "inventory.StockReserved" }

type ReservationReleased struct {
	Ref string          `json:"ref"`
	Qty decimal.Decimal `json:"qty"`
	At  time.Time       `json:"at"`
}

func (ReservationReleased) EventType() string { return "inventory.ReservationReleased" }

type LowStockAlertTriggered struct {
	Available    decimal.Decimal `json:"available"`
	ReorderPoint decimal.Decimal `json:"reorderPoint"`
	At           time.Time       `json:"at"`
}

func (LowStockAlertTriggered) EventType() string { return "inventory.LowStockAlertTriggered" }

type StockDepleted struct {
	At time.Time `json:"at"`
}

func (StockDepleted) EventType() string { return "inventory.StockDepleted" }

// NewCodec registers every inventory event type.
func NewCodec() *eventlog.Codec {
	c := eventlog.NewCodec()
	eventlog.RegisterEvent[Initialized](c)
	eventlog.RegisterEvent[StockReceived](c)
	eventlog.RegisterEvent[StockConsumed](c)
	eventlog.RegisterEvent[StockWrittenOff](c)
	eventlog.RegisterEvent[StockAdjusted](c)
	eventlog.RegisterEvent[StockTransferredOut](c)
	eventlog.RegisterEvent[ConsumptionReversed](c)
	eventlog.RegisterEvent[StockReserved](c)
	eventlog.RegisterEvent[ReservationReleased](c)
	eventlog.RegisterEvent[LowStockAlertTriggered](c)
	eventlog.RegisterEvent[StockDepleted](c)
	return c
}

// Stream payloads published on inventory-events and alert-events. These are
// the cross-actor contracts; journal events above stay private to the
// aggregate.

const (
	StreamTypeStockReceived        = "StockReceivedEvent"
	StreamTypeStockConsumed        = "StockConsumedEvent"
	StreamTypeStockWrittenOff      = "StockWrittenOffEvent"
	StreamTypeStockAdjusted        = "StockAdjustedEvent"
	StreamTypeStockTransferredOut  = "StockTransferredOutEvent"
	StreamTypeReorderPointBreached = "ReorderPointBreachedEvent"
	StreamTypeStockDepleted        = "StockDepletedEvent"
	StreamTypeExpiryAlert          = "ExpiryAlertEvent"
)

// StockEventPayload is the common payload for inventory stream events.
type StockEventPayload struct {
	OrgID        string             `json:"orgId"`
	SiteID       string             `json:"siteId"`
	IngredientID string             `json:"ingredientId"`
	MovementID   string             `json:"movementId,omitempty"`
	Qty          decimal.Decimal    `json:"qty"`
	TotalCost    decimal.Decimal    `json:"totalCost"`
	Breakdown    []BatchConsumption `json:"breakdown,omitempty"`
	OnHand       decimal.Decimal    `json:"onHand"`
	Available    decimal.Decimal    `json:"available"`
	WAC          decimal.Decimal    `json:"wac"`
	Reason       string             `json:"reason,omitempty"`
	OrderID      string             `json:"orderId,omitempty"`
	TransferID   string             `json:"transferId,omitempty"`
}

// AlertPayload is published on alert-events for level transitions.
type AlertPayload struct {
	OrgID        string          `json:"orgId"`
	SiteID       string          `json:"siteId"`
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	Available    decimal.Decimal `json:"available"`
	ReorderPoint decimal.Decimal `json:"reorderPoint"`
	Level        StockLevel      `json:"level"`
}
