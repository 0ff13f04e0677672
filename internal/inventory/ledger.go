package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

// LedgerEntry is one append-only ledger line. Balance is the running total
// after the entry, so the log is self-auditing.
type LedgerEntry struct {
	At       time.Time         `json:"at"`
	Delta    decimal.Decimal   `json:"delta"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Balance  decimal.Decimal   `json:"balance"`
}

type ledgerState struct {
	Balance decimal.Decimal `json:"balance"`
	Entries []LedgerEntry   `json:"entries"`
}

// Ledger is the minimal balance actor owned by an inventory actor. The
// balance update and the log append share a single state write, so either
// both persist or neither does. Negative balances are permitted on demand:
// the platform never refuses service over an inventory discrepancy.
type Ledger struct {
	key   actor.Key
	slot  *actor.Slot[ledgerState]
	clock func() time.Time
}

// NewLedgerFactory returns the factory for inventory ledger actors.
func NewLedgerFactory(store actor.StateStore) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &Ledger{
			key:   key,
			slot:  actor.NewSlot[ledgerState](store, key, "ledger"),
			clock: time.Now,
		}, nil
	}
}

func (l *Ledger) Activate(ctx context.Context) error {
	return l.slot.Read(ctx)
}

func (l *Ledger) Deactivate(context.Context) error { return nil }

func (l *Ledger) append(ctx context.Context, delta decimal.Decimal, reason string, meta map[string]string) error {
	l.slot.State.Balance = l.slot.State.Balance.Add(delta)
	l.slot.State.Entries = append(l.slot.State.Entries, LedgerEntry{
		At:       l.clock().UTC(),
		Delta:    delta,
		Reason:   reason,
		Metadata: meta,
		Balance:  l.slot.State.Balance,
	})
	return l.slot.Write(ctx)
}

func (l *Ledger) Credit(ctx context.Context, qty decimal.Decimal, reason string, meta map[string]string) error {
	if qty.Sign() < 0 {
		return domain.Precondition("credit quantity must be non-negative, got %s", qty)
	}
	return l.append(ctx, qty, reason, meta)
}

func (l *Ledger) Debit(ctx context.Context, qty decimal.Decimal, reason string, meta map[string]string, allowNegative bool) error {
	if qty.Sign() < 0 {
		return domain.Precondition("debit quantity must be non-negative, got %s", qty)
	}
	if !allowNegative && l.slot.State.Balance.Sub(qty).Sign() < 0 {
		return domain.Precondition("insufficient balance: have %s, need %s", l.slot.State.Balance, qty)
	}
	return l.append(ctx, qty.Neg(), reason, meta)
}

// AdjustTo reconciles the balance to target with a single entry.
func (l *Ledger) AdjustTo(ctx context.Context, target decimal.Decimal, reason string, meta map[string]string) error {
	delta := target.Sub(l.slot.State.Balance)
	return l.append(ctx, delta, reason, meta)
}

func (l *Ledger) HasSufficientBalance(qty decimal.Decimal) bool {
	return l.slot.State.Balance.Cmp(qty) >= 0
}

func (l *Ledger) Balance() decimal.Decimal { return l.slot.State.Balance }

// Entries returns a copy of the ledger log.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.slot.State.Entries))
	copy(out, l.slot.State.Entries)
	return out
}
