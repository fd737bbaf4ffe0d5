package inmemory

import (
	"context"
	"sync"
	"time"

	domain "github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/domain"
	sharedInmemory "github.com/bennyboer/kicherkrabbe-sub008/internal/shared/infra/db/inmemory"
)

// Store is an in-memory outbox used by tests. It enforces the same
// transactional contract as the persistent stores: inserts outside a
// transaction fail fast, inserts inside a rolled-back transaction leave
// nothing behind.
type Store struct {
	mu      sync.Mutex
	entries []*domain.Entry
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Insert(ctx context.Context, entries ...domain.Entry) error {
	tx, ok := sharedInmemory.TxFromContext(ctx)
	if !ok {
		return domain.ErrNoActiveTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]*domain.Entry, 0, len(entries))
	for _, entry := range entries {
		e := entry
		inserted = append(inserted, &e)
		s.entries = append(s.entries, &e)
	}

	tx.OnRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, e := range inserted {
			s.remove(e)
		}
	})
	return nil
}

func (s *Store) LockUnlockedBatch(ctx context.Context, token domain.LockToken, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	claimed := 0
	for _, e := range s.entries {
		if claimed >= limit {
			break
		}
		if e.IsLocked() || e.IsResolved() {
			continue
		}
		lockedAt := now
		t := token
		e.LockedAt = &lockedAt
		e.LockToken = &t
		claimed++
	}
	return nil
}

func (s *Store) FindLockedEntries(ctx context.Context, token domain.LockToken) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Entry
	for _, e := range s.entries {
		if e.LockToken != nil && *e.LockToken == token {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Store) AcknowledgeLocked(ctx context.Context, token domain.LockToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range s.entries {
		if e.LockToken != nil && *e.LockToken == token {
			acknowledgedAt := now
			e.AcknowledgedAt = &acknowledgedAt
			e.LockedAt = nil
			e.LockToken = nil
		}
	}
	return nil
}

func (s *Store) ReleaseLocked(ctx context.Context, token domain.LockToken, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range s.entries {
		if e.LockToken == nil || *e.LockToken != token {
			continue
		}
		e.RetryCount++
		if e.RetryCount >= maxRetries {
			failedAt := now
			e.FailedAt = &failedAt
		}
		e.LockedAt = nil
		e.LockToken = nil
	}
	return nil
}

func (s *Store) FindFailedBefore(ctx context.Context, cutoff time.Time) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Entry
	for _, e := range s.entries {
		if e.FailedAt != nil && e.FailedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *Store) UnlockLockedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unlocked int64
	for _, e := range s.entries {
		if e.LockedAt != nil && e.LockedAt.Before(cutoff) && !e.IsResolved() {
			e.LockedAt = nil
			e.LockToken = nil
			unlocked++
		}
	}
	return unlocked, nil
}

func (s *Store) DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.AcknowledgedAt != nil && e.AcknowledgedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// All returns a copy of every entry, for assertions in tests.
func (s *Store) All() []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func (s *Store) remove(target *domain.Entry) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e != target {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

var _ domain.Store = (*Store)(nil)
