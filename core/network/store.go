package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"finova/core/types"
)

// SnapshotStore persists network snapshots. Commit applies the whole batch or
// nothing: every snapshot's stored version must equal expected[account]
// (zero for an absent snapshot), otherwise it fails with ErrStaleSnapshot.
type SnapshotStore interface {
	Load(ctx context.Context, ids []types.AccountID) (map[types.AccountID]*types.NetworkSnapshot, error)
	Commit(ctx context.Context, batch []*types.NetworkSnapshot, expected map[types.AccountID]uint64) error
}

// Registration is the persisted membership of one account. An empty Referrer
// marks a root.
type Registration struct {
	Account  types.AccountID `json:"account"`
	Referrer types.AccountID `json:"referrer,omitempty"`
	JoinedAt time.Time       `json:"joinedAt"`
}

// MemberStore persists forest structure so a graph can be rebuilt.
// Registrations are returned in insertion order.
type MemberStore interface {
	PutRegistration(ctx context.Context, reg Registration) error
	Registrations(ctx context.Context) ([]Registration, error)
}

// Store combines both persistence concerns.
type Store interface {
	SnapshotStore
	MemberStore
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[types.AccountID]*types.NetworkSnapshot
	regs      []Registration
	index     map[types.AccountID]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[types.AccountID]*types.NetworkSnapshot),
		index:     make(map[types.AccountID]int),
	}
}

// Load implements SnapshotStore. Missing accounts are omitted.
func (s *MemoryStore) Load(ctx context.Context, ids []types.AccountID) (map[types.AccountID]*types.NetworkSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.AccountID]*types.NetworkSnapshot, len(ids))
	for _, id := range ids {
		if snap, ok := s.snapshots[id]; ok {
			out[id] = snap.Clone()
		}
	}
	return out, nil
}

// Commit implements SnapshotStore.
func (s *MemoryStore) Commit(ctx context.Context, batch []*types.NetworkSnapshot, expected map[types.AccountID]uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range batch {
		var current uint64
		if existing, ok := s.snapshots[snap.Account]; ok {
			current = existing.Version
		}
		if current != expected[snap.Account] {
			return fmt.Errorf("%w: %s at version %d, expected %d", ErrStaleSnapshot, snap.Account, current, expected[snap.Account])
		}
	}
	for _, snap := range batch {
		s.snapshots[snap.Account] = snap.Clone()
	}
	return nil
}

// PutRegistration implements MemberStore. Re-registering an account replaces
// its referrer in place, keeping the original order.
func (s *MemoryStore) PutRegistration(ctx context.Context, reg Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.index[reg.Account]; ok {
		s.regs[idx] = reg
		return nil
	}
	s.index[reg.Account] = len(s.regs)
	s.regs = append(s.regs, reg)
	return nil
}

// Registrations implements MemberStore.
func (s *MemoryStore) Registrations(ctx context.Context) ([]Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Registration(nil), s.regs...), nil
}

// Accounts lists accounts holding a snapshot, sorted.
func (s *MemoryStore) Accounts() []types.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]types.AccountID, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RetryPolicy bounds snapshot I/O with a per-attempt timeout and exponential
// backoff between attempts.
type RetryPolicy struct {
	Attempts   int
	Timeout    time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 2 * time.Second, MinBackoff: 25 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}
}

// Do runs op until it succeeds, fails permanently or attempts run out. Stale
// snapshots and invalid input are permanent.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.MinBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = p.once(ctx, op)
		if err == nil || permanent(err) || attempt >= attempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return err
		}
		backoff = nextBackoff(backoff, p.MaxBackoff)
	}
}

func (p RetryPolicy) once(ctx context.Context, op func(context.Context) error) error {
	if p.Timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return op(attemptCtx)
}

func permanent(err error) bool {
	return errors.Is(err, types.ErrStaleSnapshot) ||
		errors.Is(err, types.ErrInvalidInput) ||
		errors.Is(err, context.Canceled)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next <= 0 {
		next = time.Millisecond
	}
	if max > 0 && next > max {
		return max
	}
	return next
}
