package transfer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/eventlog"
)

type RequestedLine struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name,omitempty"`
	Qty          decimal.Decimal `json:"qty"`
}

type Requested struct {
	SourceSiteID      string          `json:"sourceSiteId"`
	DestinationSiteID string          `json:"destinationSiteId"`
	Lines             []RequestedLine `json:"lines"`
	RequestedBy       string          `json:"requestedBy"`
	Notes             string          `json:"notes,omitempty"`
	At                time.Time       `json:"at"`
}

func (Requested) EventType() string { return "transfer.Requested" }

type Approved struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

func (Approved) EventType() string { return "transfer.Approved" }

type Rejected struct {
	By     string    `json:"by"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (Rejected) EventType() string { return "transfer.Rejected" }

type ShippedLine struct {
	IngredientID string          `json:"ingredientId"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unitCost"`
	Cost         decimal.Decimal `json:"cost"`
}

// Shipped carries the WAC captured from the source at ship time; receipt
// and cancellation compensation both price at this cost.
type Shipped struct {
	Lines             []ShippedLine   `json:"lines"`
	TotalShippedValue decimal.Decimal `json:"totalShippedValue"`
	By                string          `json:"by"`
	At                time.Time       `json:"at"`
}

func (Shipped) EventType() string { return "transfer.Shipped" }

type ItemCountRecorded struct {
	IngredientID string          `json:"ingredientId"`
	ReceivedQty  decimal.Decimal `json:"receivedQty"`
	By           string          `json:"by"`
	At           time.Time       `json:"at"`
}

func (ItemCountRecorded) EventType() string { return "transfer.ItemCountRecorded" }

type ReceivedLine struct {
	IngredientID  string          `json:"ingredientId"`
	ReceivedQty   decimal.Decimal `json:"receivedQty"`
	Variance      decimal.Decimal `json:"variance"`
	VarianceValue decimal.Decimal `json:"varianceValue"`
}

type ReceiptFinalized struct {
	Lines              []ReceivedLine  `json:"lines"`
	TotalReceivedValue decimal.Decimal `json:"totalReceivedValue"`
	TotalVarianceValue decimal.Decimal `json:"totalVarianceValue"`
	By                 string          `json:"by"`
	At                 time.Time       `json:"at"`
}

func (ReceiptFinalized) EventType() string { return "transfer.ReceiptFinalized" }

type Cancelled struct {
	By            string    `json:"by"`
	Reason        string    `json:"reason,omitempty"`
	StockReturned bool      `json:"stockReturned"`
	At            time.Time `json:"at"`
}

func (Cancelled) EventType() string { return "transfer.Cancelled" }

// NewCodec registers every transfer event type.
func NewCodec() *eventlog.Codec {
	c := eventlog.NewCodec()
	eventlog.RegisterEvent[Requested](c)
	eventlog.RegisterEvent[Approved](c)
	eventlog.RegisterEvent[Rejected](c)
	eventlog.RegisterEvent[Shipped](c)
	eventlog.RegisterEvent[ItemCountRecorded](c)
	eventlog.RegisterEvent[ReceiptFinalized](c)
	eventlog.RegisterEvent[Cancelled](c)
	return c
}
