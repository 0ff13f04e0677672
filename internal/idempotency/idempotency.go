// Package idempotency provides keyed at-most-once guarantees for
// externally-initiated mutations. One actor per organization holds the live
// key records; any mutation with monetary or fiscal effect acquires a key
// here before executing and marks it used on completion.
package idempotency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/gastroline/backoffice/internal/actor"
)

const (
	DefaultTTL = 24 * time.Hour

	// MaxRecords caps live keys per tenant. Above the cap, expired
	// records are purged first, then the oldest 10 % by generation time.
	MaxRecords = 10_000

	CleanupInitialDelay = 15 * time.Minute
	CleanupPeriod       = time.Hour
)

// Record is one idempotency key's lifecycle.
type Record struct {
	Key             string     `json:"key"`
	Operation       string     `json:"operation"`
	RelatedEntityID string     `json:"relatedEntityId"`
	GeneratedAt     time.Time  `json:"generatedAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	Used            bool       `json:"used"`
	Successful      *bool      `json:"successful,omitempty"`
	ResultHash      string     `json:"resultHash,omitempty"`
	UsedAt          *time.Time `json:"usedAt,omitempty"`
}

// CheckResult is the outcome of a key lookup. Expired keys report
// Exists=false.
type CheckResult struct {
	Exists          bool
	Used            bool
	PreviousSuccess *bool
	ResultHash      string
}

type keyringState struct {
	Records map[string]Record `json:"records"`
}

// Service is the per-organization idempotency actor. Snapshot-persisted;
// every mutation writes state before returning.
type Service struct {
	key   actor.Key
	slot  *actor.Slot[keyringState]
	clock func() time.Time
}

// NewFactory returns the actor factory for idempotency keyrings.
func NewFactory(store actor.StateStore) actor.Factory {
	return func(key actor.Key) (actor.Actor, error) {
		return &Service{
			key:   key,
			slot:  actor.NewSlot[keyringState](store, key, "keyring"),
			clock: time.Now,
		}, nil
	}
}

func (s *Service) Activate(ctx context.Context) error {
	if err := s.slot.Read(ctx); err != nil {
		return err
	}
	if s.slot.State.Records == nil {
		s.slot.State.Records = make(map[string]Record)
	}
	return nil
}

func (s *Service) Deactivate(context.Context) error { return nil }

// GenerateKey mints a fresh opaque key and records it. The caller persists
// the key alongside the business entity it protects.
func (s *Service) GenerateKey(ctx context.Context, operation, relatedID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate idempotency key: %w", err)
	}
	key := fmt.Sprintf("idem_%s_%s", operation, hex.EncodeToString(buf))

	now := s.clock().UTC()
	s.slot.State.Records[key] = Record{
		Key:             key,
		Operation:       operation,
		RelatedEntityID: relatedID,
		GeneratedAt:     now,
		ExpiresAt:       now.Add(ttl),
	}
	s.evictIfNeeded(now)

	if err := s.slot.Write(ctx); err != nil {
		return "", err
	}
	return key, nil
}

// Check looks a key up without mutating it.
func (s *Service) Check(_ context.Context, key string) (CheckResult, error) {
	rec, ok := s.slot.State.Records[key]
	if !ok || s.clock().UTC().After(rec.ExpiresAt) {
		return CheckResult{}, nil
	}
	return CheckResult{
		Exists:          true,
		Used:            rec.Used,
		PreviousSuccess: rec.Successful,
		ResultHash:      rec.ResultHash,
	}, nil
}

// MarkUsed records the terminal result for a key.
func (s *Service) MarkUsed(ctx context.Context, key string, successful bool, resultHash string) error {
	rec, ok := s.slot.State.Records[key]
	if !ok {
		return fmt.Errorf("idempotency key not found: %s", key)
	}
	now := s.clock().UTC()
	rec.Used = true
	rec.Successful = &successful
	rec.ResultHash = resultHash
	rec.UsedAt = &now
	s.slot.State.Records[key] = rec
	return s.slot.Write(ctx)
}

// TryAcquire returns false iff the key was already used successfully.
// Otherwise it records (or refreshes) the reservation and returns true.
func (s *Service) TryAcquire(ctx context.Context, key, operation, relatedID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.clock().UTC()

	if rec, ok := s.slot.State.Records[key]; ok && now.Before(rec.ExpiresAt) {
		if rec.Used && rec.Successful != nil && *rec.Successful {
			return false, nil
		}
	}

	s.slot.State.Records[key] = Record{
		Key:             key,
		Operation:       operation,
		RelatedEntityID: relatedID,
		GeneratedAt:     now,
		ExpiresAt:       now.Add(ttl),
	}
	s.evictIfNeeded(now)
	if err := s.slot.Write(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpired removes all records past their expiry, returning the count.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	removed := s.removeExpired(s.clock().UTC())
	if removed == 0 {
		return 0, nil
	}
	return removed, s.slot.Write(ctx)
}

func (s *Service) removeExpired(now time.Time) int {
	removed := 0
	for k, rec := range s.slot.State.Records {
		if now.After(rec.ExpiresAt) {
			delete(s.slot.State.Records, k)
			removed++
		}
	}
	return removed
}

// evictIfNeeded enforces the per-tenant cap: purge expired first, then the
// oldest 10 % by generation time.
func (s *Service) evictIfNeeded(now time.Time) {
	if len(s.slot.State.Records) <= MaxRecords {
		return
	}
	s.removeExpired(now)
	if len(s.slot.State.Records) <= MaxRecords {
		return
	}

	recs := make([]Record, 0, len(s.slot.State.Records))
	for _, rec := range s.slot.State.Records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].GeneratedAt.Before(recs[j].GeneratedAt)
	})

	drop := len(recs) / 10
	for i := 0; i < drop; i++ {
		delete(s.slot.State.Records, recs[i].Key)
	}
}

// Count reports live records; used by eviction tests.
func (s *Service) Count() int { return len(s.slot.State.Records) }

// RegisterCleanupTimer schedules the periodic expiry sweep on the host.
func RegisterCleanupTimer(h *actor.Host, org string) {
	key := actor.IdempotencyKey(org)
	h.RegisterTimer(key, "cleanup", CleanupInitialDelay, CleanupPeriod, func(ctx context.Context, a actor.Actor) error {
		svc, ok := a.(*Service)
		if !ok {
			return actor.ErrWrongActor
		}
		_, err := svc.CleanupExpired(ctx)
		return err
	})
}
