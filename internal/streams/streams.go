// Package streams carries the durable domain streams between actors.
//
// A stream is identified by (namespace, tenant). Delivery to observers is
// at-least-once with ordering guaranteed only per publisher; observer actors
// re-subscribe in their activation hook and reconcile missed events through
// idempotency or periodic scans.
package streams

import (
	"context"
	"fmt"
	"time"
)

// Stream namespaces used by the core. Names are contractual.
const (
	NamespaceInventory = "inventory-events"
	NamespaceAlerts    = "alert-events"
	NamespaceFiscalTse = "fiscal-tse-events"
	NamespaceFiskaly   = "fiskaly-events"
	NamespaceOrders    = "order-events"
)

// Event is one domain event on a stream. Tenant is the organization id;
// Source is the publishing actor's key.
type Event struct {
	ID        string      `json:"id"`
	Namespace string      `json:"namespace"`
	Tenant    string      `json:"tenant"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Time      time.Time   `json:"time"`
	Data      interface{} `json:"data"`
}

// Observer is the sink contract implemented by subscribing actors.
// The token is the per-subscription delivery sequence.
type Observer interface {
	OnNext(ev Event, token int64) error
	OnCompleted()
	OnError(err error)
}

// Bus is the stream abstraction the actors publish to and subscribe on.
// A failed publish never rolls back committed aggregate state; publishers
// log and continue.
type Bus interface {
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers obs under name on the (namespace, tenant)
	// stream. Re-subscribing with the same name replaces the previous
	// registration, which is what reactivating observer actors do.
	Subscribe(namespace, tenant, name string, obs Observer) *Subscription

	// Unsubscribe removes a named registration.
	Unsubscribe(namespace, tenant, name string)
}

// Subscription handles one observer registration.
type Subscription struct {
	Namespace string
	Tenant    string
	Name      string
	cancel    func()
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

func streamID(namespace, tenant string) string {
	return fmt.Sprintf("%s/%s", namespace, tenant)
}
