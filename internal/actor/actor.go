// Package actor implements the virtual-actor runtime the platform is built
// on: keyed single-activation grains with serial per-key execution, snapshot
// and event-sourced persistence, and registered timers.
//
// The host guarantees that at most one activation of a key exists in the
// process and that only one method runs at a time against it. Calls between
// actors go back through the host; a caller blocks on the callee's mailbox
// but its own mailbox keeps draining only after its handler returns, so
// handlers are never re-entered.
package actor

import (
	"context"
	"errors"
)

// Actor is the minimal lifecycle contract every grain implements.
// Activate runs on the actor's own mailbox before the first invocation;
// Deactivate runs last, after which the instance is discarded.
type Actor interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// Factory builds an inactive instance for a key. Domain packages close over
// their dependencies (stores, stream bus, host) when registering factories.
type Factory func(key Key) (Actor, error)

var (
	ErrNoFactory    = errors.New("no factory registered for actor kind")
	ErrHostStopped  = errors.New("actor host is stopped")
	ErrWrongActor   = errors.New("actor has unexpected type")
	ErrNotActivated = errors.New("actor is not activated")
)

// Call invokes a typed operation against the actor at key and returns its
// result. The operation runs on the actor's mailbox.
func Call[A Actor, T any](ctx context.Context, h *Host, key Key, fn func(context.Context, A) (T, error)) (T, error) {
	var out T
	err := h.Invoke(ctx, key, func(ctx context.Context, a Actor) error {
		typed, ok := a.(A)
		if !ok {
			return ErrWrongActor
		}
		var err error
		out, err = fn(ctx, typed)
		return err
	})
	return out, err
}

// Do is Call without a result.
func Do[A Actor](ctx context.Context, h *Host, key Key, fn func(context.Context, A) error) error {
	_, err := Call(ctx, h, key, func(ctx context.Context, a A) (struct{}, error) {
		return struct{}{}, fn(ctx, a)
	})
	return err
}
