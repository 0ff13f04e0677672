// Package inventory implements the per-ingredient, per-site stock engine:
// FIFO batches with weighted-average cost, an unbatched deficit that absorbs
// consumption beyond available stock, reservations, a bounded movement log,
// and the quantity ledger actor subordinate to each inventory actor.
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle of a stock batch.
type BatchStatus string

const (
	BatchActive     BatchStatus = "Active"
	BatchExhausted  BatchStatus = "Exhausted"
	BatchExpired    BatchStatus = "Expired"
	BatchWrittenOff BatchStatus = "WrittenOff"
)

// StockBatch is the FIFO unit. Qty never exceeds OriginalQty; status is
// Exhausted exactly when Qty is zero. OriginalQty records the full received
// quantity even when part of the receipt cancelled an unbatched deficit, so
// it can exceed the quantity the batch ever held (observed upstream
// behaviour, kept intentionally).
type StockBatch struct {
	ID          string          `json:"id"`
	BatchNumber string          `json:"batchNumber"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	ExpiryDate  *time.Time      `json:"expiryDate,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	OriginalQty decimal.Decimal `json:"originalQty"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Status      BatchStatus     `json:"status"`
	SupplierID  string          `json:"supplierId,omitempty"`
	DeliveryID  string          `json:"deliveryId,omitempty"`
	Location    string          `json:"location,omitempty"`
	SkuID       string          `json:"skuId,omitempty"`
}

// MovementType tags entries in the movement log.
type MovementType string

const (
	MovementReceipt     MovementType = "Receipt"
	MovementConsumption MovementType = "Consumption"
	MovementWaste       MovementType = "Waste"
	MovementAdjustment  MovementType = "Adjustment"
	MovementTransferOut MovementType = "TransferOut"
	MovementTransferIn  MovementType = "TransferIn"
	MovementWriteOff    MovementType = "WriteOff"
)

// Movement is one entry in the bounded movement log. The log keeps the 100
// most recent entries; older history lives in the event journal.
type Movement struct {
	ID        string          `json:"id"`
	Type      MovementType    `json:"type"`
	Qty       decimal.Decimal `json:"qty"`
	TotalCost decimal.Decimal `json:"totalCost"`
	Reason    string          `json:"reason,omitempty"`
	OrderID   string          `json:"orderId,omitempty"`
	By        string          `json:"by,omitempty"`
	BatchID   string          `json:"batchId,omitempty"`
	At        time.Time       `json:"at"`
}

// MovementLogLimit is the default bound on the in-state movement log.
const MovementLogLimit = 100

// StockLevel is the derived stocking band.
type StockLevel string

const (
	LevelOutOfStock StockLevel = "OutOfStock"
	LevelLow        StockLevel = "Low"
	LevelNormal     StockLevel = "Normal"
	LevelAbovePar   StockLevel = "AbovePar"
)

// BatchConsumption is one step of a FIFO draw.
type BatchConsumption struct {
	BatchID     string          `json:"batchId"`
	BatchNumber string          `json:"batchNumber"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	Cost        decimal.Decimal `json:"cost"`
}

// ConsumptionResult is the envelope returned by Consume.
type ConsumptionResult struct {
	MovementID          string
	ConsumedQty         decimal.Decimal
	TotalCost           decimal.Decimal
	Breakdown           []BatchConsumption
	CostOfGoodsConsumed decimal.Decimal
	QuantityRemaining   decimal.Decimal
}

// ReceiveResult is the envelope returned by Receive.
type ReceiveResult struct {
	BatchID string
	OnHand  decimal.Decimal
	WAC     decimal.Decimal
}

// Snapshot is a copyable read model of the aggregate.
type Snapshot struct {
	OrgID            string
	SiteID           string
	IngredientID     string
	Name             string
	Sku              string
	Unit             string
	Category         string
	ReorderPoint     decimal.Decimal
	ParLevel         decimal.Decimal
	OnHand           decimal.Decimal
	Reserved         decimal.Decimal
	Available        decimal.Decimal
	WAC              decimal.Decimal
	UnbatchedDeficit decimal.Decimal
	Level            StockLevel
	Batches          []StockBatch
	Movements        []Movement
}

// DeriveLevel classifies availability against the reorder point and par
// level.
func DeriveLevel(available, reorderPoint, parLevel decimal.Decimal) StockLevel {
	switch {
	case available.Sign() <= 0:
		return LevelOutOfStock
	case available.Cmp(reorderPoint) <= 0:
		return LevelLow
	case parLevel.Sign() > 0 && available.Cmp(parLevel) > 0:
		return LevelAbovePar
	default:
		return LevelNormal
	}
}
