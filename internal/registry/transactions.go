package registry

import (
	"context"
	"sort"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

// TxEntry is one indexed fiscal transaction.
type TxEntry struct {
	TransactionID string    `json:"transactionId"`
	Date          time.Time `json:"date"`
	DeviceID      string    `json:"deviceId,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
}

type txIndexState struct {
	// day (yyyy-mm-dd, UTC) -> entries
	ByDate map[string][]TxEntry `json:"byDate,omitempty"`
}

// TransactionIndex indexes one site's fiscal transactions by calendar day,
// which is the access pattern of daily closings and exports.
type TransactionIndex struct {
	key  actor.Key
	slot *actor.Slot[txIndexState]
}

// NewTransactionIndexFactory returns the factory for transaction index actors.
func NewTransactionIndexFactory(store actor.StateStore) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &TransactionIndex{
			key:  key,
			slot: actor.NewSlot[txIndexState](store, key, "transactions"),
		}, nil
	}
}

func (r *TransactionIndex) Activate(ctx context.Context) error { return r.slot.Read(ctx) }

func (r *TransactionIndex) Deactivate(context.Context) error { return nil }

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Add indexes a transaction under its date. Duplicate ids on the same day
// are ignored, which keeps at-least-once feeders safe.
func (r *TransactionIndex) Add(ctx context.Context, e TxEntry) error {
	if e.TransactionID == "" {
		return domain.Precondition("transaction id must not be empty")
	}
	day := dayOf(e.Date)
	for _, existing := range r.slot.State.ByDate[day] {
		if existing.TransactionID == e.TransactionID {
			return nil
		}
	}
	if r.slot.State.ByDate == nil {
		r.slot.State.ByDate = make(map[string][]TxEntry)
	}
	r.slot.State.ByDate[day] = append(r.slot.State.ByDate[day], e)
	return r.slot.Write(ctx)
}

// ListDay returns the transactions of one calendar day, ordered by date.
func (r *TransactionIndex) ListDay(day time.Time) []TxEntry {
	entries := r.slot.State.ByDate[dayOf(day)]
	out := make([]TxEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ListRange returns the transactions with from ≤ date < to.
func (r *TransactionIndex) ListRange(from, to time.Time) []TxEntry {
	var out []TxEntry
	for _, entries := range r.slot.State.ByDate {
		for _, e := range entries {
			if !e.Date.Before(from) && e.Date.Before(to) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
