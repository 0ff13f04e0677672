package actor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Host owns all live activations in the process. One mailbox goroutine per
// key serializes activation, invocations, timer fires and deactivation.
type Host struct {
	mu        sync.Mutex
	factories map[Kind]Factory
	boxes     map[string]*mailbox
	timers    map[string]*timerEntry
	stopped   bool

	logger  *log.Logger
	metrics *Metrics
}

type job struct {
	ctx   context.Context
	op    func(ctx context.Context, a Actor) error
	reply chan error
}

type mailbox struct {
	key  Key
	jobs chan job
	stop chan struct{}
	done chan struct{}
}

type timerEntry struct {
	stop chan struct{}
}

func NewHost(metrics *Metrics) *Host {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Host{
		factories: make(map[Kind]Factory),
		boxes:     make(map[string]*mailbox),
		timers:    make(map[string]*timerEntry),
		logger:    log.New(log.Writer(), "[ACTORS] ", log.LstdFlags),
		metrics:   metrics,
	}
}

// Register installs the factory used to activate actors of the given kind.
func (h *Host) Register(kind Kind, f Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[kind] = f
}

// Invoke runs op against the activation for key, activating it on demand.
// The call blocks until the operation has run on the actor's mailbox or ctx
// is done. A ctx expiry abandons the wait; the operation may still complete
// on the mailbox (cooperative cancellation). A mailbox that retires while
// the job is queued is retried once against a fresh activation.
func (h *Host) Invoke(ctx context.Context, key Key, op func(ctx context.Context, a Actor) error) error {
	for attempt := 0; ; attempt++ {
		box, err := h.mailboxFor(key)
		if err != nil {
			return err
		}

		j := job{ctx: ctx, op: op, reply: make(chan error, 1)}
		select {
		case box.jobs <- j:
		case <-box.done:
			if attempt > 0 {
				return ErrNotActivated
			}
			continue
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case err := <-j.reply:
			return err
		case <-box.done:
			// Retired while the job was queued. A drained job still
			// carries its reply.
			select {
			case err := <-j.reply:
				return err
			default:
			}
			if attempt > 0 {
				return ErrNotActivated
			}
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) mailboxFor(key Key) (*mailbox, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil, ErrHostStopped
	}
	ks := key.String()
	if box, ok := h.boxes[ks]; ok {
		return box, nil
	}

	factory, ok := h.factories[key.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, key.Kind)
	}

	box := &mailbox{key: key, jobs: make(chan job, 64), stop: make(chan struct{}), done: make(chan struct{})}
	h.boxes[ks] = box
	go h.run(box, factory)
	h.metrics.Activations.Inc()
	h.metrics.Live.Inc()
	return box, nil
}

// run is the per-key worker loop. Activation happens here so it is as
// serialized as everything else.
func (h *Host) run(box *mailbox, factory Factory) {
	defer h.metrics.Live.Dec()

	act, err := factory(box.key)
	if err == nil {
		err = act.Activate(context.Background())
	}
	if err != nil {
		h.logger.Printf("activation failed key=%s err=%v", box.key, err)
		h.drop(box, fmt.Errorf("activate %s: %w", box.key, err))
		return
	}

	for {
		select {
		case j := <-box.jobs:
			h.metrics.Invocations.WithLabelValues(string(box.key.Kind)).Inc()
			j.reply <- j.op(j.ctx, act)
		case <-box.stop:
			// Drain what is already queued, then retire. Jobs sent after
			// the drain see box.done and retry on a fresh activation.
			for {
				select {
				case j := <-box.jobs:
					h.metrics.Invocations.WithLabelValues(string(box.key.Kind)).Inc()
					j.reply <- j.op(j.ctx, act)
				default:
					if err := act.Deactivate(context.Background()); err != nil {
						h.logger.Printf("deactivate key=%s err=%v", box.key, err)
					}
					close(box.done)
					return
				}
			}
		}
	}
}

// drop fails all queued jobs after an activation error and removes the box.
func (h *Host) drop(box *mailbox, cause error) {
	h.mu.Lock()
	delete(h.boxes, box.key.String())
	h.mu.Unlock()
	close(box.done)
	for {
		select {
		case j := <-box.jobs:
			j.reply <- cause
		default:
			return
		}
	}
}

// Deactivate retires the activation for key, running its Deactivate hook.
// The next Invoke re-activates from persisted state.
func (h *Host) Deactivate(ctx context.Context, key Key) error {
	h.mu.Lock()
	ks := key.String()
	box, ok := h.boxes[ks]
	if ok {
		delete(h.boxes, ks)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	h.stopTimersFor(ks)

	close(box.stop)
	select {
	case <-box.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterTimer schedules fn to run on the actor's mailbox after due, then
// every period (one-shot when period <= 0). Timers survive until the actor
// is deactivated or the timer is stopped by name. The callback receives the
// activation directly; invoking the same key from inside it would deadlock
// the mailbox.
func (h *Host) RegisterTimer(key Key, name string, due, period time.Duration, fn func(ctx context.Context, a Actor) error) {
	tk := key.String() + "/" + name
	h.mu.Lock()
	if prev, ok := h.timers[tk]; ok {
		close(prev.stop)
	}
	entry := &timerEntry{stop: make(chan struct{})}
	h.timers[tk] = entry
	h.mu.Unlock()

	go func() {
		t := time.NewTimer(due)
		defer t.Stop()
		for {
			select {
			case <-entry.stop:
				return
			case <-t.C:
			}

			h.metrics.TimerFires.Inc()
			err := h.Invoke(context.Background(), key, fn)
			if err != nil {
				h.logger.Printf("timer %s key=%s err=%v", name, key, err)
			}

			if period <= 0 {
				return
			}
			t.Reset(period)
		}
	}()
}

// StopTimer cancels a registered timer by name.
func (h *Host) StopTimer(key Key, name string) {
	tk := key.String() + "/" + name
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.timers[tk]; ok {
		close(entry.stop)
		delete(h.timers, tk)
	}
}

func (h *Host) stopTimersFor(keyString string) {
	prefix := keyString + "/"
	h.mu.Lock()
	defer h.mu.Unlock()
	for tk, entry := range h.timers {
		if len(tk) > len(prefix) && tk[:len(prefix)] == prefix {
			close(entry.stop)
			delete(h.timers, tk)
		}
	}
}

// Shutdown drains every mailbox and deactivates all actors.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	boxes := make([]*mailbox, 0, len(h.boxes))
	for _, box := range h.boxes {
		boxes = append(boxes, box)
	}
	h.boxes = make(map[string]*mailbox)
	for tk, entry := range h.timers {
		close(entry.stop)
		delete(h.timers, tk)
	}
	h.mu.Unlock()

	for _, box := range boxes {
		close(box.stop)
	}
	for _, box := range boxes {
		select {
		case <-box.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LiveCount reports the number of live activations.
func (h *Host) LiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boxes)
}
