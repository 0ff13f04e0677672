// Package stocktake implements the physical count workflow. Starting a
// count freezes theoretical quantities from inventory snapshots; counts are
// compared against that frozen baseline, not live stock, so concurrent
// consumption does not shift variances mid-count.
package stocktake

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

const StreamTypeFinalized = "StockTakeFinalizedEvent"

// Status is the stock-take lifecycle state.
type Status string

const (
	StatusInProgress      Status = "InProgress"
	StatusPendingApproval Status = "PendingApproval"
	StatusFinalized       Status = "Finalized"
	StatusCancelled       Status = "Cancelled"
)

// VarianceSeverity bands the absolute variance percentage.
type VarianceSeverity string

const (
	SeverityNone     VarianceSeverity = "None"
	SeverityLow      VarianceSeverity = "Low"
	SeverityMedium   VarianceSeverity = "Medium"
	SeverityHigh     VarianceSeverity = "High"
	SeverityCritical VarianceSeverity = "Critical"
)

// ClassifySeverity bands |variancePct|.
func ClassifySeverity(variancePct decimal.Decimal) VarianceSeverity {
	abs := variancePct.Abs()
	switch {
	case abs.Sign() == 0:
		return SeverityNone
	case abs.Cmp(decimal.NewFromInt(2)) < 0:
		return SeverityLow
	case abs.Cmp(decimal.NewFromInt(5)) < 0:
		return SeverityMedium
	case abs.Cmp(decimal.NewFromInt(10)) < 0:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// VariancePct is variance/theoretical·100 with the degenerate cases pinned:
// 0/0 is 0, x/0 is ±100.
func VariancePct(variance, theoretical decimal.Decimal) decimal.Decimal {
	if theoretical.Sign() == 0 {
		if variance.Sign() == 0 {
			return decimal.Zero
		}
		return decimal.NewFromInt(100 * int64(variance.Sign()))
	}
	return variance.Div(theoretical).Mul(decimal.NewFromInt(100))
}

// Line is one counted ingredient.
type Line struct {
	IngredientID   string           `json:"ingredientId"`
	Name           string           `json:"name,omitempty"`
	Unit           string           `json:"unit,omitempty"`
	TheoreticalQty decimal.Decimal  `json:"theoreticalQty"`
	WAC            decimal.Decimal  `json:"wac"`
	CountedQty     decimal.Decimal  `json:"countedQty"`
	Variance       decimal.Decimal  `json:"variance"`
	VariancePct    decimal.Decimal  `json:"variancePct"`
	Severity       VarianceSeverity `json:"severity"`
	Counted        bool             `json:"counted"`
	CountedBy      string           `json:"countedBy,omitempty"`
	BatchNumber    string           `json:"batchNumber,omitempty"`
	Location       string           `json:"location,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

// State is the stock-take aggregate's replayable state.
type State struct {
	Status     Status    `json:"status"`
	Blind      bool      `json:"blind"`
	Category   string    `json:"category,omitempty"`
	Lines      []Line    `json:"lines"`
	StartedBy  string    `json:"startedBy"`
	StartedAt  time.Time `json:"startedAt"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	Notes      string    `json:"notes,omitempty"`
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

func (s *State) countedLines() int {
	n := 0
	for _, l := range s.Lines {
		if l.Counted {
			n++
		}
	}
	return n
}

// ============================================================================
// EVENTS
// ============================================================================

type TheoreticalLine struct {
	IngredientID   string          `json:"ingredientId"`
	Name           string          `json:"name,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	TheoreticalQty decimal.Decimal `json:"theoreticalQty"`
	WAC            decimal.Decimal `json:"wac"`
}

type Started struct {
	Lines    []TheoreticalLine `json:"lines"`
	Blind    bool              `json:"blind"`
	Category string            `json:"category,omitempty"`
	By       string            `json:"by"`
	At       time.Time         `json:"at"`
}

func (Started) EventType() string { return "stocktake.Started" }

type CountRecorded struct {
	IngredientID string           `json:"ingredientId"`
	CountedQty   decimal.Decimal  `json:"countedQty"`
	Variance     decimal.Decimal  `json:"variance"`
	VariancePct  decimal.Decimal  `json:"variancePct"`
	Severity     VarianceSeverity `json:"severity"`
	By           string           `json:"by"`
	BatchNumber  string           `json:"batchNumber,omitempty"`
	Location     string           `json:"location,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	At           time.Time        `json:"at"`
}

func (CountRecorded) EventType() string { return "stocktake.CountRecorded" }

type SubmittedForApproval struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

func (SubmittedForApproval) EventType() string { return "stocktake.SubmittedForApproval" }

type Finalized struct {
	ApprovedBy       string    `json:"approvedBy"`
	ApplyAdjustments bool      `json:"applyAdjustments"`
	Notes            string    `json:"notes,omitempty"`
	At               time.Time `json:"at"`
}

func (Finalized) EventType() string { return "stocktake.Finalized" }

type Cancelled struct {
	By     string    `json:"by"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (Cancelled) EventType() string { return "stocktake.Cancelled" }

// NewCodec registers every stock-take event type.
func NewCodec() *eventlog.Codec {
	c := eventlog.NewCodec()
	eventlog.RegisterEvent[Started](c)
	eventlog.RegisterEvent[CountRecorded](c)
	eventlog.RegisterEvent[SubmittedForApproval](c)
	eventlog.RegisterEvent[Finalized](c)
	eventlog.RegisterEvent[Cancelled](c)
	return c
}

// Transition applies one journal event.
func Transition(s *State, ev eventlog.Event) {
	switch e := ev.(type) {
	case Started:
		s.Status = StatusInProgress
		s.Blind = e.Blind
		s.Category = e.Category
		s.StartedBy = e.By
		s.StartedAt = e.At
		s.Lines = make([]Line, 0, len(e.Lines))
		for _, tl := range e.Lines {
			s.Lines = append(s.Lines, Line{
				IngredientID:   tl.IngredientID,
				Name:           tl.Name,
				Unit:           tl.Unit,
				TheoreticalQty: tl.TheoreticalQty,
				WAC:            tl.WAC,
			})
		}

	case CountRecorded:
		if l := s.line(e.IngredientID); l != nil {
			l.CountedQty = e.CountedQty
			l.Variance = e.Variance
			l.VariancePct = e.VariancePct
			l.Severity = e.Severity
			l.Counted = true
			l.CountedBy = e.By
			l.BatchNumber = e.BatchNumber
			l.Location = e.Location
			l.Notes = e.Notes
		}

	case SubmittedForApproval:
		s.Status = StatusPendingApproval

	case Finalized:
		s.Status = StatusFinalized
		s.ApprovedBy = e.ApprovedBy
		s.Notes = e.Notes

	case Cancelled:
		s.Status = StatusCancelled
	}
}

// ============================================================================
// ACTOR
// ============================================================================

// StockTake is the physical count aggregate actor.
type StockTake struct {
	key  actor.Key
	agg  *eventlog.Aggregate[State]
	host *actor.Host
	bus  streams.Bus

	clock  func() time.Time
	logger *log.Logger
}

// NewFactory returns the factory for stock-take actors.
func NewFactory(journal eventlog.JournalStore, host *actor.Host, bus streams.Bus) actor.Factory {
	codec := NewCodec()
	return func(key actor.Key) (actor.Actor, error) {
		return &StockTake{
			key:    key,
			agg:    eventlog.NewAggregate[State](key.String(), journal, codec, Transition),
			host:   host,
			bus:    bus,
			clock:  time.Now,
			logger: log.New(log.Writer(), "[STOCKTAKE] ", log.LstdFlags),
		}, nil
	}
}

func (st *StockTake) Activate(ctx context.Context) error { return st.agg.Load(ctx) }

func (st *StockTake) Deactivate(context.Context) error { return nil }

func (st *StockTake) state() *State { return st.agg.State() }

// StartParams configures a count.
type StartParams struct {
	IngredientIDs []string
	Category      string // optional filter against ingredient category
	Blind         bool
	By            string
}

// Start freezes theoretical quantities from inventory snapshots. Uninitialized
// ingredients and category mismatches are skipped.
func (st *StockTake) Start(ctx context.Context, p StartParams) error {
	if st.state().Initialized() {
		return domain.Conflict("stock take %s already started", st.key.ID)
	}
	if len(p.IngredientIDs) == 0 {
		return domain.Precondition("stock take requires at least one ingredient")
	}

	lines := make([]TheoreticalLine, 0, len(p.IngredientIDs))
	for _, id := range p.IngredientIDs {
		snap, err := actor.Call(ctx, st.host, actor.InventoryKey(st.key.Org, st.key.Site, id),
			func(ctx context.Context, inv *inventory.Inventory) (inventory.Snapshot, error) {
				return inv.GetSnapshot(), nil
			})
		if err != nil {
			st.logger.Printf("start skipping ingredient %s: %v", id, err)
			continue
		}
		if snap.IngredientID == "" {
			continue
		}
		if p.Category != "" && snap.Category != p.Category {
			continue
		}
		lines = append(lines, TheoreticalLine{
			IngredientID:   id,
			Name:           snap.Name,
			Unit:           snap.Unit,
			TheoreticalQty: snap.OnHand,
			WAC:            snap.WAC,
		})
	}
	if len(lines) == 0 {
		return domain.Precondition("no ingredients matched the stock take filters")
	}

	st.agg.Raise(Started{Lines: lines, Blind: p.Blind, Category: p.Category, By: p.By, At: st.clock().UTC()})
	return st.agg.ConfirmEvents(ctx)
}

// CountParams is one recorded count.
type CountParams struct {
	IngredientID string
	CountedQty   decimal.Decimal
	By           string
	BatchNumber  string
	Location     string
	Notes        string
}

// RecordCount registers a counted quantity against the frozen baseline.
// Re-counting a line replaces the previous count.
func (st *StockTake) RecordCount(ctx context.Context, p CountParams) error {
	if !st.state().Initialized() {
		return domain.NotInitialized("stock take " + st.key.String())
	}
	if st.state().Status != StatusInProgress {
		return domain.InvalidTransition("stock take %s is %s, counts require InProgress", st.key.ID, st.state().Status)
	}
	if p.CountedQty.Sign() < 0 {
		return domain.Precondition("counted quantity must be non-negative, got %s", p.CountedQty)
	}
	line := st.state().line(p.IngredientID)
	if line == nil {
		return domain.NotFound("stock take line %s", p.IngredientID)
	}

	variance := p.CountedQty.Sub(line.TheoreticalQty)
	pct := VariancePct(variance, line.TheoreticalQty)
	st.agg.Raise(CountRecorded{
		IngredientID: p.IngredientID,
		CountedQty:   p.CountedQty,
		Variance:     variance,
		VariancePct:  pct,
		Severity:     ClassifySeverity(pct),
		By:           p.By,
		BatchNumber:  p.BatchNumber,
		Location:     p.Location,
		Notes:        p.Notes,
		At:           st.clock().UTC(),
	})
	return st.agg.ConfirmEvents(ctx)
}

// SubmitForApproval requires at least one recorded count.
func (st *StockTake) SubmitForApproval(ctx context.Context, by string) error {
	if !st.state().Initialized() {
		return domain.NotInitialized("stock take " + st.key.String())
	}
	if st.state().Status != StatusInProgress {
		return domain.InvalidTransition("stock take %s is %s, expected InProgress", st.key.ID, st.state().Status)
	}
	if st.state().countedLines() == 0 {
		return domain.Precondition("stock take %s has no recorded counts", st.key.ID)
	}
	st.agg.Raise(SubmittedForApproval{By: by, At: st.clock().UTC()})
	return st.agg.ConfirmEvents(ctx)
}

// Finalize closes the count. With applyAdjustments, every counted line with
// a non-zero variance is pushed to its inventory actor as a physical count.
func (st *StockTake) Finalize(ctx context.Context, approvedBy string, applyAdjustments bool, notes string) error {
	if !st.state().Initialized() {
		return domain.NotInitialized("stock take " + st.key.String())
	}
	if st.state().Status != StatusPendingApproval {
		return domain.InvalidTransition("stock take %s is %s, expected PendingApproval", st.key.ID, st.state().Status)
	}

	if applyAdjustments {
		for _, line := range st.state().Lines {
			if !line.Counted || line.Variance.Sign() == 0 {
				continue
			}
			counted := line.CountedQty
			err := actor.Do(ctx, st.host, actor.InventoryKey(st.key.Org, st.key.Site, line.IngredientID),
				func(ctx context.Context, inv *inventory.Inventory) error {
					return inv.RecordPhysicalCount(ctx, counted, approvedBy, approvedBy)
				})
			if err != nil {
				return err
			}
		}
	}

	st.agg.Raise(Finalized{ApprovedBy: approvedBy, ApplyAdjustments: applyAdjustments, Notes: notes, At: st.clock().UTC()})
	if err := st.agg.ConfirmEvents(ctx); err != nil {
		return err
	}

	st.publishFinalized(ctx)
	return nil
}

// Cancel aborts a count that has not been finalized.
func (st *StockTake) Cancel(ctx context.Context, by, reason string) error {
	if !st.state().Initialized() {
		return domain.NotInitialized("stock take " + st.key.String())
	}
	switch st.state().Status {
	case StatusInProgress, StatusPendingApproval:
	default:
		return domain.InvalidTransition("cannot cancel stock take %s in state %s", st.key.ID, st.state().Status)
	}
	st.agg.Raise(Cancelled{By: by, Reason: reason, At: st.clock().UTC()})
	return st.agg.ConfirmEvents(ctx)
}

// Snapshot returns the stock-take state. In blind mode, theoretical
// quantities and variances are masked until the count is finalized.
func (st *StockTake) Snapshot() State {
	s := *st.state()
	s.Lines = make([]Line, len(st.state().Lines))
	copy(s.Lines, st.state().Lines)
	if s.Blind && s.Status != StatusFinalized {
		for i := range s.Lines {
			s.Lines[i].TheoreticalQty = decimal.Zero
			s.Lines[i].Variance = decimal.Zero
			s.Lines[i].VariancePct = decimal.Zero
			s.Lines[i].Severity = ""
		}
	}
	return s
}

func (st *StockTake) publishFinalized(ctx context.Context) {
	s := st.state()
	counted := 0
	varianceValue := decimal.Zero
	for _, l := range s.Lines {
		if l.Counted {
			counted++
			varianceValue = varianceValue.Add(l.Variance.Mul(l.WAC))
		}
	}
	ev := streams.Event{
		Namespace: streams.NamespaceInventory,
		Tenant:    st.key.Org,
		Type:      StreamTypeFinalized,
		Source:    st.key.String(),
		Time:      st.clock().UTC(),
		Data: map[string]any{
			"stockTakeId":        st.key.ID,
			"siteId":             st.key.Site,
			"countedLines":       counted,
			"totalLines":         len(s.Lines),
			"totalVarianceValue": varianceValue,
			"approvedBy":         s.ApprovedBy,
		},
	}
	if err := st.bus.Publish(ctx, ev); err != nil {
		st.logger.Printf("publish %s failed stocktake=%s: %v", StreamTypeFinalized, st.key.ID, err)
	}
}
