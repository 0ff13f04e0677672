package fiscal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gastroline/backoffice/internal/streams"
)

// Stream event types on fiskaly-events.
const (
	StreamTypeFiskalyCompleted = "FiskalyTransactionCompleted"
	StreamTypeFiskalyFailed    = "FiskalyTransactionFailed"
)

// FiskalyOutcome is the payload published on fiskaly-events.
type FiskalyOutcome struct {
	TseID             string `json:"tseId"`
	TransactionNumber uint64 `json:"transactionNumber"`
	CloudTxID         string `json:"cloudTxId,omitempty"`
	SignatureValue    string `json:"signatureValue,omitempty"`
	Error             string `json:"error,omitempty"`
}

// decodeData normalizes a stream payload: concrete structs arrive from the
// in-process bus, raw JSON from broker pumps. Both round-trip through JSON.
func decodeData[T any](data any) (T, error) {
	var out T
	switch v := data.(type) {
	case T:
		return v, nil
	case []byte:
		err := json.Unmarshal(v, &out)
		return out, err
	case json.RawMessage:
		err := json.Unmarshal(v, &out)
		return out, err
	default:
		buf, err := json.Marshal(data)
		if err != nil {
			return out, err
		}
		err = json.Unmarshal(buf, &out)
		return out, err
	}
}

// Coordinator bridges TSE signing events to the cloud TSS. It subscribes to
// fiscal-tse-events per tenant, forwards starts and finishes, and publishes
// the cloud outcome on fiskaly-events. Cloud failures never propagate back
// into the signing path; the local signature is already committed.
type Coordinator struct {
	bus    streams.Bus
	client CloudTssClient
	logger *log.Logger

	mu sync.Mutex
	// (tseID, txNumber) -> cloud transaction id
	cloudTx map[cloudTxKey]string
}

type cloudTxKey struct {
	tseID    string
	txNumber uint64
}

func NewCoordinator(bus streams.Bus, client CloudTssClient) *Coordinator {
	return &Coordinator{
		bus:     bus,
		client:  client,
		logger:  log.New(log.Writer(), "[FISCAL] ", log.LstdFlags),
		cloudTx: make(map[cloudTxKey]string),
	}
}

// Start subscribes the coordinator for one tenant. Safe to call again after
// a restart; the named subscription replaces the previous one.
func (c *Coordinator) Start(org string) *streams.Subscription {
	return c.bus.Subscribe(streams.NamespaceFiscalTse, org, "fiscal-coordinator", c)
}

func (c *Coordinator) OnNext(ev streams.Event, token int64) error {
	payload, err := decodeData[TsePayload](ev.Data)
	if err != nil {
		c.logger.Printf("undecodable %s event: %v", ev.Type, err)
		return nil
	}
	if payload.External == "" {
		// internally signed transactions stay local
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch ev.Type {
	case StreamTypeTseStarted:
		c.forwardStart(ctx, ev.Tenant, payload)
	case StreamTypeTseFinished:
		c.forwardFinish(ctx, ev.Tenant, payload)
	}
	return nil
}

func (c *Coordinator) OnCompleted() {}

func (c *Coordinator) OnError(err error) {
	c.logger.Printf("fiscal-tse-events subscription error: %v", err)
}

func (c *Coordinator) forwardStart(ctx context.Context, org string, p TsePayload) {
	ref, err := c.client.StartTransaction(ctx, p.TseID, p.ClientID, CloudTransaction{
		ProcessType: CloudProcessType(p.ProcessType),
		ProcessData: p.ProcessData,
	})
	if err != nil {
		c.logger.Printf("cloud start failed tse=%s tx=%d: %v", p.TseID, p.TransactionNumber, err)
		return
	}
	c.mu.Lock()
	c.cloudTx[cloudTxKey{p.TseID, p.TransactionNumber}] = ref.ID
	c.mu.Unlock()
}

func (c *Coordinator) forwardFinish(ctx context.Context, org string, p TsePayload) {
	receipt, err := BuildCloudReceipt(p.ProcessType, p.ProcessData)
	if err != nil {
		c.publishOutcome(ctx, org, p, CloudTxRef{}, err)
		return
	}

	c.mu.Lock()
	txID := c.cloudTx[cloudTxKey{p.TseID, p.TransactionNumber}]
	delete(c.cloudTx, cloudTxKey{p.TseID, p.TransactionNumber})
	c.mu.Unlock()

	var ref CloudTxRef
	if txID != "" {
		ref, err = c.client.FinishTransaction(ctx, p.TseID, txID, receipt)
	} else {
		// start never reached the cloud; sign the receipt standalone
		ref, err = c.client.SignReceipt(ctx, p.TseID, receipt)
	}
	c.publishOutcome(ctx, org, p, ref, err)
}

func (c *Coordinator) publishOutcome(ctx context.Context, org string, p TsePayload, ref CloudTxRef, cause error) {
	outcome := FiskalyOutcome{
		TseID:             p.TseID,
		TransactionNumber: p.TransactionNumber,
		CloudTxID:         ref.ID,
		SignatureValue:    ref.SignatureValue,
	}
	eventType := StreamTypeFiskalyCompleted
	if cause != nil {
		eventType = StreamTypeFiskalyFailed
		outcome.Error = cause.Error()
		c.logger.Printf("cloud finish failed tse=%s tx=%d: %v", p.TseID, p.TransactionNumber, cause)
	}
	ev := streams.Event{
		Namespace: streams.NamespaceFiskaly,
		Tenant:    org,
		Type:      eventType,
		Source:    "fiscal-coordinator",
		Time:      time.Now().UTC(),
		Data:      outcome,
	}
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.logger.Printf("publish %s failed tse=%s tx=%d: %v", eventType, p.TseID, p.TransactionNumber, err)
	}
}
