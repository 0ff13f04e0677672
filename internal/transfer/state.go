package transfer

import (
	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/eventlog"
)

// Status is the transfer lifecycle state.
type Status string

const (
	StatusRequested Status = "Requested"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusShipped   Status = "Shipped"
	StatusReceived  Status = "Received"
	StatusCancelled Status = "Cancelled"
)

// validTransitions is the allowed state machine. Received and the two
// failure states are terminal.
var validTransitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusReceived, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Line is one transferred ingredient with its full lifecycle quantities.
type Line struct {
	IngredientID  string          `json:"ingredientId"`
	Name          string          `json:"name,omitempty"`
	RequestedQty  decimal.Decimal `json:"requestedQty"`
	ShippedQty    decimal.Decimal `json:"shippedQty"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	ReceivedQty   decimal.Decimal `json:"receivedQty"`
	Variance      decimal.Decimal `json:"variance"`
	CountRecorded bool            `json:"countRecorded"`
}

// State is the transfer aggregate's replayable state.
type State struct {
	Status            Status          `json:"status"`
	SourceSiteID      string          `json:"sourceSiteId"`
	DestinationSiteID string          `json:"destinationSiteId"`
	Lines             []Line          `json:"lines"`
	RequestedBy       string          `json:"requestedBy"`
	ApprovedBy        string          `json:"approvedBy,omitempty"`
	ShippedBy         string          `json:"shippedBy,omitempty"`
	ReceivedBy        string          `json:"receivedBy,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	TotalShippedValue decimal.Decimal `json:"totalShippedValue"`
	TotalReceived     decimal.Decimal `json:"totalReceivedValue"`
	TotalVariance     decimal.Decimal `json:"totalVarianceValue"`
}

func (s *State) Initialized() bool { return s.Status != "" }

func (s *State) line(ingredientID string) *Line {
	for i := range s.Lines {
		if s.Lines[i].IngredientID == ingredientID {
			return &s.Lines[i]
		}
	}
	return nil
}

// Transition applies one journal event.
func Transition(s *State, ev eventlog.Event) {
	switch e := ev.(type) {
	case Requested:
		s.Status = StatusRequested
		s.SourceSiteID = e.SourceSiteID
		s.DestinationSiteID = e.DestinationSiteID
		s.RequestedBy = e.RequestedBy
		s.Notes = e.Notes
		s.Lines = make([]Line, 0, len(e.Lines))
		for _, l := range e.Lines {
			s.Lines = append(s.Lines, Line{
				IngredientID: l.IngredientID,
				Name:         l.Name,
				RequestedQty: l.Qty,
			})
		}

	case Approved:
		s.Status = StatusApproved
		s.ApprovedBy = e.By

	case Rejected:
		s.Status = StatusRejected

	case Shipped:
		s.Status = StatusShipped
		s.ShippedBy = e.By
		s.TotalShippedValue = e.TotalShippedValue
		for _, sl := range e.Lines {
			if l := s.line(sl.IngredientID); l != nil {
				l.ShippedQty = sl.Qty
				l.UnitCost = sl.UnitCost
			}
		}

	case ItemCountRecorded:
		if l := s.line(e.IngredientID); l != nil {
			l.ReceivedQty = e.ReceivedQty
			l.Variance = e.ReceivedQty.Sub(l.ShippedQty)
			l.CountRecorded = true
		}

	case ReceiptFinalized:
		s.Status = StatusReceived
		s.ReceivedBy = e.By
		s.TotalReceived = e.TotalReceivedValue
		s.TotalVariance = e.TotalVarianceValue
		for _, rl := range e.Lines {
			if l := s.line(rl.IngredientID); l != nil {
				l.ReceivedQty = rl.ReceivedQty
				l.Variance = rl.Variance
				l.CountRecorded = true
			}
		}

	case Cancelled:
		s.Status = StatusCancelled
	}
}
