// Package circuitbreaker guards calls to external processors (cloud TSS,
// payment rails) against cascading failures. One breaker per processor id;
// the table is a process-local optimization and is rebuilt empty on restart.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	StateClosed   State = iota // requests flow, failures accumulate
	StateOpen                  // short-circuited until the reset window lapses
	StateHalfOpen              // exactly one probe allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrProbeInFlight = errors.New("half-open probe already in flight")
)

// Config holds breaker tuning. Defaults implement the platform contract:
// trip after 5 consecutive failures, re-probe after 30 seconds.
type Config struct {
	Name          string
	TripThreshold int
	ResetAfter    time.Duration
	OnStateChange func(name string, from, to State)
}

func DefaultConfig(name string) *Config {
	return &Config{
		Name:          name,
		TripThreshold: 5,
		ResetAfter:    30 * time.Second,
		OnStateChange: func(name string, from, to State) {
			log.Printf("[CircuitBreaker:%s] %s -> %s", name, from, to)
		},
	}
}

// Breaker is a single processor's circuit state.
type Breaker struct {
	cfg *Config

	mu           sync.Mutex
	state        State
	consecutive  int
	openedAt     time.Time
	probeRunning bool
}

func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

func (b *Breaker) Name() string { return b.cfg.Name }

// State reports the current state, accounting for reset-window expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Allow reports whether a request may proceed right now. A nil return from
// Allow in half-open state claims the single probe slot; the caller must
// report the outcome via Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState(time.Now()) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probeRunning {
			return ErrProbeInFlight
		}
		b.probeRunning = true
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probeRunning = false
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.currentState(now) {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.cfg.TripThreshold {
			b.openedAt = now
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.probeRunning = false
		b.openedAt = now
		b.setState(StateOpen)
	}
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// currentState must run under b.mu.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.ResetAfter {
		b.setState(StateHalfOpen)
	}
	return b.state
}

// setState must run under b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.consecutive = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

func (b *Breaker) String() string {
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, consecutive=%d]", b.cfg.Name, b.State(), b.consecutive)
}

// ============================================================================
// MANAGER
// ============================================================================

// Manager hands out one breaker per processor id.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      *Config
}

func NewManager(defaultCfg *Config) *Manager {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig("")
	}
	return &Manager{breakers: make(map[string]*Breaker), cfg: defaultCfg}
}

// Get returns the breaker for a processor id, creating it if needed.
func (m *Manager) Get(processorID string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[processorID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[processorID]; ok {
		return b
	}
	cfg := *m.cfg
	cfg.Name = processorID
	b = New(&cfg)
	m.breakers[processorID] = b
	return b
}

// States reports the current state per processor.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.State()
	}
	return out
}
