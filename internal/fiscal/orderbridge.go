package fiscal

import (
	"context"
	"log"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/idempotency"
	"github.com/gastroline/backoffice/internal/streams"
)

// Order stream event types consumed by the bridge.
const (
	StreamTypeOrderCompleted = "OrderCompletedEvent"
	StreamTypeOrderVoided    = "OrderVoidedEvent"
)

// OrderPayload is the order-events payload the bridge consumes.
type OrderPayload struct {
	OrderID string  `json:"orderId"`
	SiteID  string  `json:"siteId,omitempty"`
	Amounts Amounts `json:"amounts"`
}

// OrderLink records one order's fiscal transaction.
type OrderLink struct {
	TransactionID string    `json:"transactionId"`
	TxNumber      uint64    `json:"txNumber"`
	LinkedAt      time.Time `json:"linkedAt"`
	Voided        bool      `json:"voided,omitempty"`
}

type bridgeState struct {
	TseID    string               `json:"tseId"`
	ClientID string               `json:"clientId,omitempty"`
	Links    map[string]OrderLink `json:"links,omitempty"`
}

// OrderBridge drives fiscal signing from the order stream. Delivery is
// at-least-once, so the order→transaction link index is the idempotency
// anchor: an order already linked is never signed twice.
type OrderBridge struct {
	key  actor.Key
	slot *actor.Slot[bridgeState]
	host *actor.Host
	bus  streams.Bus

	clock  func() time.Time
	logger *log.Logger
}

// NewOrderBridgeFactory returns the factory for order-fiscal bridge actors.
func NewOrderBridgeFactory(store actor.StateStore, host *actor.Host, bus streams.Bus) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &OrderBridge{
			key:    key,
			slot:   actor.NewSlot[bridgeState](store, key, "orderbridge"),
			host:   host,
			bus:    bus,
			clock:  time.Now,
			logger: log.New(log.Writer(), "[ORDERBRIDGE] ", log.LstdFlags),
		}, nil
	}
}

// Activate loads state and re-registers the order-events subscription. The
// observer relays deliveries back through the mailbox so handling stays
// serialized with the actor's other operations.
func (b *OrderBridge) Activate(ctx context.Context) error {
	if err := b.slot.Read(ctx); err != nil {
		return err
	}
	b.bus.Subscribe(streams.NamespaceOrders, b.key.Org, "orderfiscal:"+b.key.Site, &orderRelay{
		host: b.host,
		key:  b.key,
	})
	return nil
}

func (b *OrderBridge) Deactivate(context.Context) error {
	b.bus.Unsubscribe(streams.NamespaceOrders, b.key.Org, "orderfiscal:"+b.key.Site)
	return nil
}

// orderRelay forwards stream deliveries into the bridge actor's mailbox.
type orderRelay struct {
	host *actor.Host
	key  actor.Key
}

func (r *orderRelay) OnNext(ev streams.Event, token int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return actor.Do(ctx, r.host, r.key, func(ctx context.Context, b *OrderBridge) error {
		return b.handleOrderEvent(ctx, ev)
	})
}

func (r *orderRelay) OnCompleted() {}

func (r *orderRelay) OnError(err error) {
	log.Printf("[ORDERBRIDGE] order-events subscription error key=%s: %v", r.key, err)
}

// Configure binds the bridge to its TSE device.
func (b *OrderBridge) Configure(ctx context.Context, tseID, clientID string) error {
	if tseID == "" {
		return domain.Precondition("tse id must not be empty")
	}
	b.slot.State.TseID = tseID
	b.slot.State.ClientID = clientID
	return b.slot.Write(ctx)
}

// WasAlreadyLinked reports whether the order has a fiscal transaction.
func (b *OrderBridge) WasAlreadyLinked(orderID string) bool {
	_, ok := b.slot.State.Links[orderID]
	return ok
}

// LinkedTransaction returns the link for an order.
func (b *OrderBridge) LinkedTransaction(orderID string) (OrderLink, bool) {
	l, ok := b.slot.State.Links[orderID]
	return l, ok
}

func (b *OrderBridge) handleOrderEvent(ctx context.Context, ev streams.Event) error {
	if b.slot.State.TseID == "" {
		// not configured; orders pass through unsigned
		return nil
	}
	payload, err := decodeData[OrderPayload](ev.Data)
	if err != nil {
		b.logger.Printf("undecodable %s event: %v", ev.Type, err)
		return nil
	}
	if payload.OrderID == "" {
		return nil
	}
	if payload.SiteID != "" && payload.SiteID != b.key.Site {
		return nil
	}

	switch ev.Type {
	case StreamTypeOrderCompleted:
		return b.signOrder(ctx, payload, false)
	case StreamTypeOrderVoided:
		return b.signOrder(ctx, payload, true)
	}
	return nil
}

// signOrder opens and signs a fiscal transaction for the order, guarded by
// the link index and an idempotency reservation. Errors are logged and
// swallowed; the stream redelivers and the guards keep the retry safe.
func (b *OrderBridge) signOrder(ctx context.Context, p OrderPayload, voided bool) error {
	s := &b.slot.State
	link, linked := s.Links[p.OrderID]
	if voided && !linked {
		// void for an order never signed here; nothing to compensate
		return nil
	}
	if !voided && linked {
		return nil
	}
	if voided && link.Voided {
		return nil
	}

	operation := "order_fiscal"
	txID := "ord-" + p.OrderID
	if voided {
		operation = "order_fiscal_void"
		txID = "ord-" + p.OrderID + "-void"
	}

	idemKey, err := actor.Call(ctx, b.host, actor.IdempotencyKey(b.key.Org),
		func(ctx context.Context, svc *idempotency.Service) (string, error) {
			return svc.GenerateKey(ctx, operation, p.OrderID, idempotency.DefaultTTL)
		})
	if err != nil {
		b.logger.Printf("idempotency key generation failed order=%s: %v", p.OrderID, err)
		return nil
	}

	res, err := b.driveTransaction(ctx, txID, p)
	success := err == nil
	if merr := actor.Do(ctx, b.host, actor.IdempotencyKey(b.key.Org),
		func(ctx context.Context, svc *idempotency.Service) error {
			return svc.MarkUsed(ctx, idemKey, success, res.SignatureBase64)
		}); merr != nil {
		b.logger.Printf("idempotency mark failed order=%s: %v", p.OrderID, merr)
	}
	if err != nil {
		b.logger.Printf("fiscal signing failed order=%s voided=%t: %v", p.OrderID, voided, err)
		return nil
	}

	if s.Links == nil {
		s.Links = make(map[string]OrderLink)
	}
	if voided {
		link.Voided = true
		s.Links[p.OrderID] = link
	} else {
		s.Links[p.OrderID] = OrderLink{
			TransactionID: txID,
			TxNumber:      res.TransactionNumber,
			LinkedAt:      b.clock().UTC(),
		}
	}
	return b.slot.Write(ctx)
}

func (b *OrderBridge) driveTransaction(ctx context.Context, txID string, p OrderPayload) (SignatureResult, error) {
	s := b.slot.State
	txKey := actor.FiscalTransactionKey(b.key.Org, txID)
	if err := actor.Do(ctx, b.host, txKey, func(ctx context.Context, tx *Transaction) error {
		return tx.Open(ctx, s.TseID, p.OrderID, ProcessTypeReceipt, p.Amounts, s.ClientID)
	}); err != nil && !domain.IsConflict(err) {
		return SignatureResult{}, err
	}
	return actor.Call(ctx, b.host, txKey, func(ctx context.Context, tx *Transaction) (SignatureResult, error) {
		return tx.Sign(ctx)
	})
}
