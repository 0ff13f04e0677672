package fiscal

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/streams"
)

// TseTimeFormat is the contractual timestamp layout: UTC with milliseconds.
const TseTimeFormat = "2006-01-02T15:04:05.000Z"

// Stream event types on fiscal-tse-events.
const (
	StreamTypeTseStarted          = "TseTransactionStarted"
	StreamTypeTseUpdated          = "TseTransactionUpdated"
	StreamTypeTseFinished         = "TseTransactionFinished"
	StreamTypeTseExternalResponse = "ExternalTseResponseReceived"
)

// ExternalTseType selects the signing provider.
type ExternalTseType string

const (
	ExternalTseNone    ExternalTseType = "None"
	ExternalTseFiskaly ExternalTseType = "Fiskaly"
)

// ExternalMapping configures delegation to an external TSS.
type ExternalMapping struct {
	Enabled  bool            `json:"enabled"`
	Type     ExternalTseType `json:"type"`
	TssID    string          `json:"tssId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
}

// TxContext is one in-flight signing transaction.
type TxContext struct {
	Number      uint64    `json:"number"`
	ProcessType string    `json:"processType"`
	ProcessData string    `json:"processData"`
	ClientID    string    `json:"clientId,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

type tseState struct {
	LocationID         string               `json:"locationId"`
	SigningKey         []byte               `json:"signingKey"`
	CertificateSerial  string               `json:"certificateSerial"`
	PublicKeyBase64    string               `json:"publicKeyBase64"`
	TransactionCounter uint64               `json:"transactionCounter"`
	SignatureCounter   uint64               `json:"signatureCounter"`
	Active             map[uint64]TxContext `json:"active,omitempty"`
	External           *ExternalMapping     `json:"external,omitempty"`
	LastSelfTestAt     *time.Time           `json:"lastSelfTestAt,omitempty"`
	LastSelfTestPassed bool                 `json:"lastSelfTestPassed"`
}

// SignatureResult is the outcome of finishing a transaction.
type SignatureResult struct {
	TransactionNumber uint64    `json:"transactionNumber"`
	SignatureCounter  uint64    `json:"signatureCounter"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	SignatureBase64   string    `json:"signatureBase64"`
	Algorithm         string    `json:"algorithm"`
	QRCode            string    `json:"qrCode"`
	CertificateSerial string    `json:"certificateSerial"`
}

// TsePayload is the stream payload published on fiscal-tse-events.
type TsePayload struct {
	TseID             string    `json:"tseId"`
	LocationID        string    `json:"locationId"`
	TransactionNumber uint64    `json:"transactionNumber"`
	ProcessType       string    `json:"processType"`
	ProcessData       string    `json:"processData"`
	ClientID          string    `json:"clientId,omitempty"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime,omitempty"`
	SignatureCounter  uint64    `json:"signatureCounter,omitempty"`
	SignatureBase64   string    `json:"signatureBase64,omitempty"`
	QRCode            string    `json:"qrCode,omitempty"`
	External          string    `json:"external,omitempty"`
}

// SigningProvider produces the signature bytes over the canonical payload.
type SigningProvider interface {
	Name() string
	Sign(payload []byte) ([]byte, error)
}

// hmacProvider is the built-in signer: HMAC-SHA256 keyed with the device's
// signing key.
type hmacProvider struct {
	key []byte
}

func (hmacProvider) Name() string { return "internal" }

func (p hmacProvider) Sign(payload []byte) ([]byte, error) {
	if len(p.key) == 0 {
		return nil, domain.NotInitialized("signing key")
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// fiskalyProvider signs locally like the internal provider; the cloud copy
// of the signature arrives asynchronously through ReceiveExternalResponse.
type fiskalyProvider struct {
	hmacProvider
	tssID string
}

func (fiskalyProvider) Name() string { return "fiskaly" }

// newProvider is the provider factory applied on activation and on every
// mapping change.
func newProvider(key []byte, m *ExternalMapping) SigningProvider {
	if m != nil && m.Enabled && m.Type != "" && m.Type != ExternalTseNone {
		return fiskalyProvider{hmacProvider{key}, m.TssID}
	}
	return hmacProvider{key}
}

// Tse is the technical signing device actor. Both counters are strictly
// monotonic and persisted before any result leaves the actor.
type Tse struct {
	key      actor.Key
	slot     *actor.Slot[tseState]
	bus      streams.Bus
	provider SigningProvider

	clock   func() time.Time
	randKey func() ([]byte, error)
	logger  *log.Logger
}

// NewTseFactory returns the factory for TSE actors.
func NewTseFactory(store actor.StateStore, bus streams.Bus) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &Tse{
			key:     key,
			slot:    actor.NewSlot[tseState](store, key, "tse"),
			bus:     bus,
			clock:   time.Now,
			randKey: randomSigningKey,
			logger:  log.New(log.Writer(), "[TSE] ", log.LstdFlags),
		}, nil
	}
}

func randomSigningKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

func (t *Tse) Activate(ctx context.Context) error {
	if err := t.slot.Read(ctx); err != nil {
		return err
	}
	t.provider = newProvider(t.slot.State.SigningKey, t.slot.State.External)
	return nil
}

func (t *Tse) Deactivate(context.Context) error { return nil }

func (t *Tse) initialized() bool { return len(t.slot.State.SigningKey) > 0 }

func (t *Tse) requireInit() error {
	if !t.initialized() {
		return domain.NotInitialized("tse " + t.key.String())
	}
	return nil
}

// Initialize generates the signing key and certificate material. The
// certificate serial and public key are stand-ins derived from the
// initialization time and key; a certified TSE replaces both.
func (t *Tse) Initialize(ctx context.Context, locationID string) error {
	if t.initialized() {
		return domain.Conflict("tse %s already initialized", t.key.ID)
	}
	key, err := t.randKey()
	if err != nil {
		return err
	}
	now := t.clock().UTC()
	t.slot.State = tseState{
		LocationID:        locationID,
		SigningKey:        key,
		CertificateSerial: fmt.Sprintf("TSE-%d", now.UnixNano()),
		PublicKeyBase64:   base64.StdEncoding.EncodeToString(key[:16]),
		Active:            make(map[uint64]TxContext),
	}
	if err := t.slot.Write(ctx); err != nil {
		return err
	}
	t.provider = newProvider(key, nil)
	return nil
}

// StartTransaction allocates the next transaction number and opens a
// signing context.
func (t *Tse) StartTransaction(ctx context.Context, processType, processData, clientID string) (TxContext, error) {
	if err := t.requireInit(); err != nil {
		return TxContext{}, err
	}
	s := &t.slot.State
	s.TransactionCounter++
	tx := TxContext{
		Number:      s.TransactionCounter,
		ProcessType: processType,
		ProcessData: processData,
		ClientID:    clientID,
		StartedAt:   t.clock().UTC(),
	}
	if s.Active == nil {
		s.Active = make(map[uint64]TxContext)
	}
	s.Active[tx.Number] = tx
	if err := t.slot.Write(ctx); err != nil {
		return TxContext{}, err
	}

	t.publish(ctx, StreamTypeTseStarted, TsePayload{
		TseID:             t.key.ID,
		LocationID:        s.LocationID,
		TransactionNumber: tx.Number,
		ProcessType:       processType,
		ProcessData:       processData,
		ClientID:          clientID,
		StartTime:         tx.StartedAt,
		External:          t.externalTag(),
	})
	return tx, nil
}

// UpdateTransaction replaces the in-flight context's process data.
func (t *Tse) UpdateTransaction(ctx context.Context, txNumber uint64, processData string) error {
	if err := t.requireInit(); err != nil {
		return err
	}
	tx, ok := t.slot.State.Active[txNumber]
	if !ok {
		return domain.NotFound("tse transaction %d", txNumber)
	}
	tx.ProcessData = processData
	t.slot.State.Active[txNumber] = tx
	if err := t.slot.Write(ctx); err != nil {
		return err
	}

	t.publish(ctx, StreamTypeTseUpdated, TsePayload{
		TseID:             t.key.ID,
		LocationID:        t.slot.State.LocationID,
		TransactionNumber: txNumber,
		ProcessType:       tx.ProcessType,
		ProcessData:       processData,
		StartTime:         tx.StartedAt,
	})
	return nil
}

// signaturePayload is the contractual canonical form. Field order and the
// `;` separator are fixed; verifiers reproduce this exact string.
func signaturePayload(txNumber uint64, start, end time.Time, processType, processData string, sigCounter uint64) string {
	return fmt.Sprintf("%d;%s;%s;%s;%s;%d",
		txNumber,
		start.UTC().Format(TseTimeFormat),
		end.UTC().Format(TseTimeFormat),
		processType,
		processData,
		sigCounter,
	)
}

// qrPayload is the contractual QR form: exactly 11 `;`-separated fields
// beginning with the version marker V0.
func qrPayload(certSerial string, utcTime time.Time, txNumber uint64, start, end time.Time, processType, processData string, sigCounter uint64, sigBase64 string) string {
	return strings.Join([]string{
		"V0",
		certSerial,
		"HMAC-SHA256",
		utcTime.UTC().Format(TseTimeFormat),
		fmt.Sprintf("%d", txNumber),
		start.UTC().Format(TseTimeFormat),
		end.UTC().Format(TseTimeFormat),
		processType,
		processData,
		fmt.Sprintf("%d", sigCounter),
		sigBase64,
	}, ";")
}

// FinishTransaction signs the canonical payload, closes the context and
// advances the signature counter.
func (t *Tse) FinishTransaction(ctx context.Context, txNumber uint64, processType, processData string) (SignatureResult, error) {
	if err := t.requireInit(); err != nil {
		return SignatureResult{}, err
	}
	s := &t.slot.State
	tx, ok := s.Active[txNumber]
	if !ok {
		return SignatureResult{}, domain.NotFound("tse transaction %d", txNumber)
	}

	end := t.clock().UTC()
	sigCounter := s.SignatureCounter + 1
	payload := signaturePayload(txNumber, tx.StartedAt, end, processType, processData, sigCounter)
	sig, err := t.provider.Sign([]byte(payload))
	if err != nil {
		return SignatureResult{}, fmt.Errorf("sign transaction %d: %w", txNumber, err)
	}
	sigBase64 := base64.StdEncoding.EncodeToString(sig)

	s.SignatureCounter = sigCounter
	delete(s.Active, txNumber)
	if err := t.slot.Write(ctx); err != nil {
		return SignatureResult{}, err
	}

	res := SignatureResult{
		TransactionNumber: txNumber,
		SignatureCounter:  sigCounter,
		StartTime:         tx.StartedAt,
		EndTime:           end,
		SignatureBase64:   sigBase64,
		Algorithm:         "HMAC-SHA256",
		QRCode:            qrPayload(s.CertificateSerial, end, txNumber, tx.StartedAt, end, processType, processData, sigCounter, sigBase64),
		CertificateSerial: s.CertificateSerial,
	}

	t.publish(ctx, StreamTypeTseFinished, TsePayload{
		TseID:             t.key.ID,
		LocationID:        s.LocationID,
		TransactionNumber: txNumber,
		ProcessType:       processType,
		ProcessData:       processData,
		ClientID:          tx.ClientID,
		StartTime:         tx.StartedAt,
		EndTime:           end,
		SignatureCounter:  sigCounter,
		SignatureBase64:   sigBase64,
		QRCode:            res.QRCode,
		External:          t.externalTag(),
	})
	return res, nil
}

// SelfTest signs a fixed message; passing means a non-empty signature.
func (t *Tse) SelfTest(ctx context.Context) (bool, error) {
	if err := t.requireInit(); err != nil {
		return false, err
	}
	sig, err := t.provider.Sign([]byte("tse-self-test"))
	passed := err == nil && len(sig) > 0
	now := t.clock().UTC()
	t.slot.State.LastSelfTestAt = &now
	t.slot.State.LastSelfTestPassed = passed
	if werr := t.slot.Write(ctx); werr != nil {
		return passed, werr
	}
	return passed, err
}

// ConfigureExternalMapping swaps the signing provider.
func (t *Tse) ConfigureExternalMapping(ctx context.Context, m ExternalMapping) error {
	if err := t.requireInit(); err != nil {
		return err
	}
	t.slot.State.External = &m
	if err := t.slot.Write(ctx); err != nil {
		return err
	}
	t.provider = newProvider(t.slot.State.SigningKey, &m)
	return nil
}

// ReceiveExternalResponse surfaces an asynchronous external-TSS
// acknowledgement as a stream event.
func (t *Tse) ReceiveExternalResponse(ctx context.Context, txNumber uint64, externalID, status string) error {
	if err := t.requireInit(); err != nil {
		return err
	}
	t.publish(ctx, StreamTypeTseExternalResponse, TsePayload{
		TseID:             t.key.ID,
		LocationID:        t.slot.State.LocationID,
		TransactionNumber: txNumber,
		ProcessData:       status,
		External:          externalID,
	})
	return nil
}

// Info is the TSE read model.
type Info struct {
	LocationID         string     `json:"locationId"`
	CertificateSerial  string     `json:"certificateSerial"`
	PublicKeyBase64    string     `json:"publicKeyBase64"`
	TransactionCounter uint64     `json:"transactionCounter"`
	SignatureCounter   uint64     `json:"signatureCounter"`
	ActiveTransactions int        `json:"activeTransactions"`
	External           string     `json:"external,omitempty"`
	LastSelfTestAt     *time.Time `json:"lastSelfTestAt,omitempty"`
	LastSelfTestPassed bool       `json:"lastSelfTestPassed"`
}

func (t *Tse) GetInfo() Info {
	s := t.slot.State
	return Info{
		LocationID:         s.LocationID,
		CertificateSerial:  s.CertificateSerial,
		PublicKeyBase64:    s.PublicKeyBase64,
		TransactionCounter: s.TransactionCounter,
		SignatureCounter:   s.SignatureCounter,
		ActiveTransactions: len(s.Active),
		External:           t.externalTag(),
		LastSelfTestAt:     s.LastSelfTestAt,
		LastSelfTestPassed: s.LastSelfTestPassed,
	}
}

func (t *Tse) externalTag() string {
	if t.provider == nil {
		return ""
	}
	if t.provider.Name() == "internal" {
		return ""
	}
	return t.provider.Name()
}

func (t *Tse) publish(ctx context.Context, eventType string, payload TsePayload) {
	ev := streams.Event{
		Namespace: streams.NamespaceFiscalTse,
		Tenant:    t.key.Org,
		Type:      eventType,
		Source:    t.key.String(),
		Time:      t.clock().UTC(),
		Data:      payload,
	}
	if err := t.bus.Publish(ctx, ev); err != nil {
		t.logger.Printf("publish %s failed tse=%s: %v", eventType, t.key.ID, err)
	}
}
