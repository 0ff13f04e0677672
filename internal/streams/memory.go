package streams

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is the in-process stream bus. Each observer has a dedicated
// delivery goroutine reading a buffered channel, so publisher order is
// preserved per subscription and a slow observer never blocks a publisher.
// On overflow the event is dropped and the observer notified through
// OnError; durable backends layered on top re-deliver.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*memorySub // streamID -> name -> sub
	logger *log.Logger
}

type memorySub struct {
	obs    Observer
	ch     chan Event
	done   chan struct{}
	closed sync.Once
}

const memoryBufferSize = 256

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string]map[string]*memorySub),
		logger: log.New(log.Writer(), "[STREAMS] ", log.LstdFlags),
	}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[streamID(ev.Namespace, ev.Tenant)] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Printf("dropping event %s type=%s: observer buffer full", ev.ID, ev.Type)
			sub.obs.OnError(ErrObserverOverflow)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(namespace, tenant, name string, obs Observer) *Subscription {
	sid := streamID(namespace, tenant)

	sub := &memorySub{
		obs:  obs,
		ch:   make(chan Event, memoryBufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[sid] == nil {
		b.subs[sid] = make(map[string]*memorySub)
	}
	if prev, ok := b.subs[sid][name]; ok {
		prev.close()
	}
	b.subs[sid][name] = sub
	b.mu.Unlock()

	go sub.deliver()

	return &Subscription{
		Namespace: namespace,
		Tenant:    tenant,
		Name:      name,
		cancel:    func() { b.Unsubscribe(namespace, tenant, name) },
	}
}

func (b *MemoryBus) Unsubscribe(namespace, tenant, name string) {
	sid := streamID(namespace, tenant)
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[sid][name]; ok {
		sub.close()
		delete(b.subs[sid], name)
	}
}

func (s *memorySub) close() {
	s.closed.Do(func() { close(s.done) })
}

func (s *memorySub) deliver() {
	var token int64
	for {
		select {
		case <-s.done:
			s.obs.OnCompleted()
			return
		case ev := <-s.ch:
			token++
			if err := s.obs.OnNext(ev, token); err != nil {
				s.obs.OnError(err)
			}
		}
	}
}
