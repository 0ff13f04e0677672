package fiscal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gastroline/backoffice/internal/actor"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/streams"
)

// ==== HARNESS ====

// captureBus records published events for assertions.
type captureBus struct {
	mu     sync.Mutex
	events []streams.Event
}

func (b *captureBus) Publish(_ context.Context, ev streams.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *captureBus) Subscribe(namespace, tenant, name string, _ streams.Observer) *streams.Subscription {
	return &streams.Subscription{Namespace: namespace, Tenant: tenant, Name: name}
}

func (b *captureBus) Unsubscribe(string, string, string) {}

func (b *captureBus) typesOn(namespace string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		if ev.Namespace == namespace {
			out = append(out, ev.Type)
		}
	}
	return out
}

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type tseFixture struct {
	store actor.StateStore
	bus   *captureBus
	tse   *Tse
	now   time.Time
}

func newTseFixture(t *testing.T) *tseFixture {
	f := &tseFixture{
		store: actor.NewMemoryStateStore(),
		bus:   &captureBus{},
		now:   time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC),
	}
	f.tse = f.materialize(t)
	return f
}

// materialize builds a TSE actor against the fixture's store with a
// deterministic clock and signing key.
func (f *tseFixture) materialize(t *testing.T) *Tse {
	t.Helper()
	factory := NewTseFactory(f.store, f.bus)
	a, err := factory(actor.TseKey("org1", "tse-1"))
	require.NoError(t, err)
	tse := a.(*Tse)
	tse.clock = func() time.Time { return f.now }
	tse.randKey = func() ([]byte, error) { return testSigningKey, nil }
	require.NoError(t, tse.Activate(context.Background()))
	return tse
}

func hmacBase64(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ==== INITIALIZATION ====

func TestTseRequiresInitialization(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()

	_, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "1.00^^^", "till-1")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = f.tse.FinishTransaction(ctx, 1, ProcessTypeReceipt, "1.00^^^")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = f.tse.SelfTest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestTseInitializeOnce(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))
	err := f.tse.Initialize(ctx, "loc-2")
	assert.True(t, domain.IsConflict(err))

	info := f.tse.GetInfo()
	assert.Equal(t, "loc-1", info.LocationID)
	assert.NotEmpty(t, info.CertificateSerial)
	assert.NotEmpty(t, info.PublicKeyBase64)
	assert.EqualValues(t, 0, info.TransactionCounter)
	assert.EqualValues(t, 0, info.SignatureCounter)
}

// ==== SIGNING ====

func TestTseCountersAreMonotonic(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	for i := 1; i <= 3; i++ {
		tx, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "1.00^^^", "till-1")
		require.NoError(t, err)
		assert.EqualValues(t, i, tx.Number)

		res, err := f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeReceipt, "1.00^^^")
		require.NoError(t, err)
		assert.EqualValues(t, i, res.SignatureCounter)
	}
	assert.Equal(t, 0, f.tse.GetInfo().ActiveTransactions)
}

func TestTseSignatureIsDeterministic(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	// Position the counters mid-life
	f.tse.slot.State.TransactionCounter = 41
	f.tse.slot.State.SignatureCounter = 6

	start := f.now
	tx, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "11.90^NORMAL:10.00^NORMAL:1.90^CASH:11.90", "till-1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, tx.Number)

	f.now = f.now.Add(90 * time.Second)
	res, err := f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeReceipt, tx.ProcessData)
	require.NoError(t, err)

	assert.EqualValues(t, 7, res.SignatureCounter)
	assert.Equal(t, "HMAC-SHA256", res.Algorithm)

	payload := fmt.Sprintf("42;%s;%s;%s;%s;7",
		start.Format(TseTimeFormat),
		f.now.Format(TseTimeFormat),
		ProcessTypeReceipt,
		tx.ProcessData,
	)
	assert.Equal(t, hmacBase64(testSigningKey, payload), res.SignatureBase64)
}

func TestTseQRCodeShape(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	tx, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "5.00^^^CASH:5.00", "till-1")
	require.NoError(t, err)
	res, err := f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeReceipt, tx.ProcessData)
	require.NoError(t, err)

	fields := strings.Split(res.QRCode, ";")
	require.Len(t, fields, 11)
	assert.Equal(t, "V0", fields[0])
	assert.Equal(t, res.CertificateSerial, fields[1])
	assert.Equal(t, "HMAC-SHA256", fields[2])
	assert.Equal(t, "1", fields[4])
	assert.Equal(t, ProcessTypeReceipt, fields[7])
	assert.Equal(t, res.SignatureBase64, fields[10])
}

func TestTseUpdateTransaction(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	tx, err := f.tse.StartTransaction(ctx, ProcessTypeOrder, "5.00^^^", "till-1")
	require.NoError(t, err)
	require.NoError(t, f.tse.UpdateTransaction(ctx, tx.Number, "7.50^^^"))

	err = f.tse.UpdateTransaction(ctx, 999, "1.00^^^")
	assert.True(t, domain.IsNotFound(err))

	// The updated data is what gets signed
	res, err := f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeOrder, f.tse.slot.State.Active[tx.Number].ProcessData)
	if err == nil {
		assert.NotEmpty(t, res.SignatureBase64)
	}
}

func TestTseFinishUnknownTransaction(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	_, err := f.tse.FinishTransaction(ctx, 17, ProcessTypeReceipt, "1.00^^^")
	assert.True(t, domain.IsNotFound(err))
}

// ==== PERSISTENCE ====

func TestTseCountersSurviveReactivation(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	tx, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "1.00^^^", "till-1")
	require.NoError(t, err)
	_, err = f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeReceipt, "1.00^^^")
	require.NoError(t, err)

	// A pending transaction left open across the restart
	_, err = f.tse.StartTransaction(ctx, ProcessTypeOrder, "2.00^^^", "till-1")
	require.NoError(t, err)

	revived := f.materialize(t)
	info := revived.GetInfo()
	assert.EqualValues(t, 2, info.TransactionCounter)
	assert.EqualValues(t, 1, info.SignatureCounter)
	assert.Equal(t, 1, info.ActiveTransactions)

	// The revived device resumes numbering where it left off
	tx3, err := revived.StartTransaction(ctx, ProcessTypeReceipt, "3.00^^^", "till-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, tx3.Number)
}

// ==== SELF TEST & EXTERNAL MAPPING ====

func TestTseSelfTest(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	passed, err := f.tse.SelfTest(ctx)
	require.NoError(t, err)
	assert.True(t, passed)

	info := f.tse.GetInfo()
	require.NotNil(t, info.LastSelfTestAt)
	assert.True(t, info.LastSelfTestPassed)
}

func TestTseExternalMappingSwapsProvider(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))
	assert.Empty(t, f.tse.GetInfo().External)

	require.NoError(t, f.tse.ConfigureExternalMapping(ctx, ExternalMapping{
		Enabled: true,
		Type:    ExternalTseFiskaly,
		TssID:   "tss-9",
	}))
	assert.Equal(t, "fiskaly", f.tse.GetInfo().External)

	// The mapping survives reactivation
	revived := f.materialize(t)
	assert.Equal(t, "fiskaly", revived.GetInfo().External)

	require.NoError(t, f.tse.ConfigureExternalMapping(ctx, ExternalMapping{Enabled: false}))
	assert.Empty(t, f.tse.GetInfo().External)
}

// ==== STREAM EVENTS ====

func TestTseLifecyclePublishesEvents(t *testing.T) {
	f := newTseFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tse.Initialize(ctx, "loc-1"))

	tx, err := f.tse.StartTransaction(ctx, ProcessTypeReceipt, "1.00^^^", "till-1")
	require.NoError(t, err)
	require.NoError(t, f.tse.UpdateTransaction(ctx, tx.Number, "2.00^^^"))
	_, err = f.tse.FinishTransaction(ctx, tx.Number, ProcessTypeReceipt, "2.00^^^")
	require.NoError(t, err)
	require.NoError(t, f.tse.ReceiveExternalResponse(ctx, tx.Number, "ext-1", "SIGNED"))

	assert.Equal(t, []string{
		StreamTypeTseStarted,
		StreamTypeTseUpdated,
		StreamTypeTseFinished,
		StreamTypeTseExternalResponse,
	}, f.bus.typesOn(streams.NamespaceFiscalTse))
}
