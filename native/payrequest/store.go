package payrequest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Store persists pending intents. Implementations must make Insert and Delete
// atomic per reference: Insert never overwrites, and when several callers
// Delete the same reference concurrently exactly one observes removed=true.
type Store interface {
	Insert(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, ref Reference) (*Intent, error)
	Delete(ctx context.Context, ref Reference) (removed bool, err error)
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// MemoryStore is an in-process Store. Expired intents read as absent until
// swept.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[Reference]*Intent
	now     func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[Reference]*Intent),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for expiry checks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Insert(_ context.Context, intent *Intent) error {
	if intent == nil {
		return errors.New("payrequest: intent required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.intents[intent.Reference]; ok && !existing.Expired(s.now()) {
		return ErrReferenceCollision
	}
	s.intents[intent.Reference] = intent.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ref Reference) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[ref]
	if !ok || intent.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return intent.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, ref Reference) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[ref]
	if !ok {
		return false, nil
	}
	delete(s.intents, ref)
	return !intent.Expired(s.now()), nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for ref, intent := range s.intents {
		if intent.Expired(now) {
			delete(s.intents, ref)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	count := 0
	for _, intent := range s.intents {
		if !intent.Expired(now) {
			count++
		}
	}
	return count, nil
}
