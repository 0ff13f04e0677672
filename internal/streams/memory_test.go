package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver collects deliveries for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	events    []Event
	tokens    []int64
	errs      []error
	completed bool
	fail      error // returned from OnNext when set
}

func (r *recordingObserver) OnNext(ev Event, token int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.tokens = append(r.tokens, token)
	return r.fail
}

func (r *recordingObserver) OnCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *recordingObserver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) snapshot() ([]Event, []int64, []error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...), append([]int64(nil), r.tokens...), append([]error(nil), r.errs...), r.completed
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func publish(t *testing.T, bus Bus, namespace, tenant, typ string, data interface{}) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), Event{
		Namespace: namespace,
		Tenant:    tenant,
		Type:      typ,
		Time:      time.Now().UTC(),
		Data:      data,
	}))
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	a := &recordingObserver{}
	b := &recordingObserver{}
	bus.Subscribe(NamespaceInventory, "org1", "a", a)
	bus.Subscribe(NamespaceInventory, "org1", "b", b)

	publish(t, bus, NamespaceInventory, "org1", "StockReceivedEvent", nil)

	require.Eventually(t, func() bool {
		return a.count() == 1 && b.count() == 1
	}, time.Second, 5*time.Millisecond)

	events, _, _, _ := a.snapshot()
	assert.Equal(t, "StockReceivedEvent", events[0].Type)
	assert.NotEmpty(t, events[0].ID, "bus assigns an id when the publisher left it blank")
}

func TestMemoryBusIsolatesStreams(t *testing.T) {
	bus := NewMemoryBus()
	obs := &recordingObserver{}
	bus.Subscribe(NamespaceInventory, "org1", "obs", obs)

	publish(t, bus, NamespaceInventory, "org2", "StockReceivedEvent", nil) // other tenant
	publish(t, bus, NamespaceAlerts, "org1", "LowStockAlertEvent", nil)    // other namespace
	publish(t, bus, NamespaceInventory, "org1", "StockReceivedEvent", nil)

	require.Eventually(t, func() bool { return obs.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, obs.count())
}

func TestMemoryBusOrderAndTokensPerSubscription(t *testing.T) {
	bus := NewMemoryBus()
	obs := &recordingObserver{}
	bus.Subscribe(NamespaceInventory, "org1", "obs", obs)

	for i := 0; i < 10; i++ {
		publish(t, bus, NamespaceInventory, "org1", fmt.Sprintf("ev-%d", i), nil)
	}

	require.Eventually(t, func() bool { return obs.count() == 10 }, time.Second, 5*time.Millisecond)
	events, tokens, _, _ := obs.snapshot()
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), events[i].Type)
		assert.Equal(t, int64(i+1), tokens[i])
	}
}

func TestMemoryBusNamedResubscribeReplacesPrevious(t *testing.T) {
	bus := NewMemoryBus()
	old := &recordingObserver{}
	bus.Subscribe(NamespaceInventory, "org1", "obs", old)

	fresh := &recordingObserver{}
	bus.Subscribe(NamespaceInventory, "org1", "obs", fresh)

	require.Eventually(t, func() bool {
		_, _, _, completed := old.snapshot()
		return completed
	}, time.Second, 5*time.Millisecond)

	publish(t, bus, NamespaceInventory, "org1", "StockReceivedEvent", nil)
	require.Eventually(t, func() bool { return fresh.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, old.count())
}

func TestMemoryBusObserverFailureReported(t *testing.T) {
	bus := NewMemoryBus()
	obs := &recordingObserver{fail: errors.New("observer broke")}
	bus.Subscribe(NamespaceInventory, "org1", "obs", obs)

	publish(t, bus, NamespaceInventory, "org1", "StockReceivedEvent", nil)

	require.Eventually(t, func() bool {
		_, _, errs, _ := obs.snapshot()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)
	_, _, errs, _ := obs.snapshot()
	assert.EqualError(t, errs[0], "observer broke")
}

func TestMemoryBusUnsubscribeCompletes(t *testing.T) {
	bus := NewMemoryBus()
	obs := &recordingObserver{}
	sub := bus.Subscribe(NamespaceInventory, "org1", "obs", obs)
	sub.Cancel()

	require.Eventually(t, func() bool {
		_, _, _, completed := obs.snapshot()
		return completed
	}, time.Second, 5*time.Millisecond)

	publish(t, bus, NamespaceInventory, "org1", "StockReceivedEvent", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, obs.count())
}
