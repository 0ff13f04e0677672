package fiscal

import (
	"context"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
)

// TxStatus is the fiscal transaction lifecycle.
type TxStatus string

const (
	TxPending  TxStatus = "Pending"
	TxSigned   TxStatus = "Signed"
	TxFailed   TxStatus = "Failed"
	TxRetrying TxStatus = "Retrying"
)

type transactionState struct {
	Status            TxStatus   `json:"status"`
	TseID             string     `json:"tseId"`
	OrderID           string     `json:"orderId,omitempty"`
	ProcessType       string     `json:"processType"`
	ProcessData       string     `json:"processData"`
	Amounts           Amounts    `json:"amounts"`
	TransactionNumber uint64     `json:"transactionNumber"`
	NumberAllocated   bool       `json:"numberAllocated"`
	StartTime         time.Time  `json:"startTime,omitempty"`
	EndTime           time.Time  `json:"endTime,omitempty"`
	SignatureCounter  uint64     `json:"signatureCounter,omitempty"`
	SignatureBase64   string     `json:"signatureBase64,omitempty"`
	QRCode            string     `json:"qrCode,omitempty"`
	RetryCount        int        `json:"retryCount"`
	FailureReason     string     `json:"failureReason,omitempty"`
	ExportedAt        *time.Time `json:"exportedAt,omitempty"`
}

// Transaction is the one-shot signing envelope. The device transaction
// number is allocated exactly once on Open; Sign is rejected once the
// envelope is Signed.
type Transaction struct {
	key  actor.Key
	slot *actor.Slot[transactionState]
	host *actor.Host

	clock func() time.Time
}

// NewTransactionFactory returns the factory for fiscal transaction actors.
func NewTransactionFactory(store actor.StateStore, host *actor.Host) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &Transaction{
			key:   key,
			slot:  actor.NewSlot[transactionState](store, key, "transaction"),
			host:  host,
			clock: time.Now,
		}, nil
	}
}

func (tx *Transaction) Activate(ctx context.Context) error { return tx.slot.Read(ctx) }

func (tx *Transaction) Deactivate(context.Context) error { return nil }

func (tx *Transaction) initialized() bool { return tx.slot.State.Status != "" }

// Open allocates a transaction number from the TSE and moves to Pending.
func (tx *Transaction) Open(ctx context.Context, tseID, orderID, processType string, amounts Amounts, clientID string) error {
	if tx.initialized() {
		return domain.Conflict("fiscal transaction %s already opened", tx.key.ID)
	}
	processData := EncodeProcessData(amounts)

	started, err := actor.Call(ctx, tx.host, actor.TseKey(tx.key.Org, tseID),
		func(ctx context.Context, t *Tse) (TxContext, error) {
			return t.StartTransaction(ctx, processType, processData, clientID)
		})
	if err != nil {
		return err
	}

	tx.slot.State = transactionState{
		Status:            TxPending,
		TseID:             tseID,
		OrderID:           orderID,
		ProcessType:       processType,
		ProcessData:       processData,
		Amounts:           amounts,
		TransactionNumber: started.Number,
		NumberAllocated:   true,
		StartTime:         started.StartedAt,
	}
	return tx.slot.Write(ctx)
}

// Sign finishes the TSE transaction and stores the signature. A failed
// attempt moves to Retrying and counts up; callers apply backoff.
func (tx *Transaction) Sign(ctx context.Context) (SignatureResult, error) {
	if !tx.initialized() {
		return SignatureResult{}, domain.NotInitialized("fiscal transaction " + tx.key.ID)
	}
	s := &tx.slot.State
	if s.Status == TxSigned {
		return SignatureResult{}, domain.Conflict("fiscal transaction %s already signed", tx.key.ID)
	}

	res, err := actor.Call(ctx, tx.host, actor.TseKey(tx.key.Org, s.TseID),
		func(ctx context.Context, t *Tse) (SignatureResult, error) {
			return t.FinishTransaction(ctx, s.TransactionNumber, s.ProcessType, s.ProcessData)
		})
	if err != nil {
		s.Status = TxRetrying
		s.RetryCount++
		s.FailureReason = err.Error()
		if werr := tx.slot.Write(ctx); werr != nil {
			return SignatureResult{}, werr
		}
		return SignatureResult{}, err
	}

	s.Status = TxSigned
	s.EndTime = res.EndTime
	s.SignatureCounter = res.SignatureCounter
	s.SignatureBase64 = res.SignatureBase64
	s.QRCode = res.QRCode
	s.FailureReason = ""
	if err := tx.slot.Write(ctx); err != nil {
		return SignatureResult{}, err
	}
	return res, nil
}

// Fail marks the envelope terminally failed.
func (tx *Transaction) Fail(ctx context.Context, reason string) error {
	if !tx.initialized() {
		return domain.NotInitialized("fiscal transaction " + tx.key.ID)
	}
	if tx.slot.State.Status == TxSigned {
		return domain.InvalidTransition("fiscal transaction %s already signed", tx.key.ID)
	}
	tx.slot.State.Status = TxFailed
	tx.slot.State.FailureReason = reason
	return tx.slot.Write(ctx)
}

// MarkExported records the export timestamp once.
func (tx *Transaction) MarkExported(ctx context.Context) error {
	if tx.slot.State.Status != TxSigned {
		return domain.InvalidTransition("fiscal transaction %s is %s, export requires Signed", tx.key.ID, tx.slot.State.Status)
	}
	if tx.slot.State.ExportedAt != nil {
		return nil
	}
	now := tx.clock().UTC()
	tx.slot.State.ExportedAt = &now
	return tx.slot.Write(ctx)
}

// TransactionView is the read model.
type TransactionView struct {
	Status            TxStatus   `json:"status"`
	TseID             string     `json:"tseId"`
	OrderID           string     `json:"orderId,omitempty"`
	ProcessType       string     `json:"processType"`
	ProcessData       string     `json:"processData"`
	TransactionNumber uint64     `json:"transactionNumber"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           time.Time  `json:"endTime,omitempty"`
	SignatureCounter  uint64     `json:"signatureCounter,omitempty"`
	SignatureBase64   string     `json:"signatureBase64,omitempty"`
	QRCode            string     `json:"qrCode,omitempty"`
	RetryCount        int        `json:"retryCount"`
	FailureReason     string     `json:"failureReason,omitempty"`
	ExportedAt        *time.Time `json:"exportedAt,omitempty"`
}

func (tx *Transaction) View() TransactionView {
	s := tx.slot.State
	return TransactionView{
		Status:            s.Status,
		TseID:             s.TseID,
		OrderID:           s.OrderID,
		ProcessType:       s.ProcessType,
		ProcessData:       s.ProcessData,
		TransactionNumber: s.TransactionNumber,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		SignatureCounter:  s.SignatureCounter,
		SignatureBase64:   s.SignatureBase64,
		QRCode:            s.QRCode,
		RetryCount:        s.RetryCount,
		FailureReason:     s.FailureReason,
		ExportedAt:        s.ExportedAt,
	}
}
