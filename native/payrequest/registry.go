package payrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxCreateAttempts bounds how many fresh references Create draws when
// the store reports a collision.
const DefaultMaxCreateAttempts = 5

// Registry owns the pending intents of a merchant.
type Registry struct {
	store        Store
	ttl          time.Duration
	maxAttempts  int
	now          func() time.Time
	newReference func() (Reference, error)
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithTTL sets the lifetime of new intents. Zero disables expiry.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithMaxCreateAttempts overrides DefaultMaxCreateAttempts.
func WithMaxCreateAttempts(n int) RegistryOption {
	return func(r *Registry) { r.maxAttempts = n }
}

// WithRegistryClock sets the clock used to stamp intents.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithReferenceSource replaces the reference generator.
func WithReferenceSource(fn func() (Reference, error)) RegistryOption {
	return func(r *Registry) { r.newReference = fn }
}

// NewRegistry constructs a registry over the supplied store. A nil store
// selects a fresh MemoryStore.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	reg := &Registry{
		store:        store,
		maxAttempts:  DefaultMaxCreateAttempts,
		now:          time.Now,
		newReference: NewReference,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.maxAttempts <= 0 {
		reg.maxAttempts = DefaultMaxCreateAttempts
	}
	if reg.now == nil {
		reg.now = time.Now
	}
	if reg.newReference == nil {
		reg.newReference = NewReference
	}
	return reg
}

// Create validates the request, mints a fresh reference and stores the intent.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Intent, error) {
	now := r.now().UTC()
	intent := &Intent{
		Recipient: strings.TrimSpace(req.Recipient),
		Amount:    req.Amount,
		SPLToken:  strings.TrimSpace(req.SPLToken),
		Label:     req.Label,
		Message:   req.Message,
		Memo:      req.Memo,
		CreatedAt: now,
	}
	if r.ttl > 0 {
		intent.ExpiresAt = now.Add(r.ttl)
	}
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		ref, err := r.newReference()
		if err != nil {
			return nil, err
		}
		intent.Reference = ref
		if err := intent.Validate(); err != nil {
			return nil, err
		}
		err = r.store.Insert(ctx, intent)
		if err == nil {
			return intent.Clone(), nil
		}
		if !errors.Is(err, ErrReferenceCollision) {
			return nil, fmt.Errorf("payrequest: insert intent: %w", err)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrReferenceCollision, r.maxAttempts)
}

// Lookup returns the pending intent for ref or ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, ref Reference) (*Intent, error) {
	return r.store.Get(ctx, ref)
}

// Delete removes the intent. Deleting an absent reference is a no-op.
func (r *Registry) Delete(ctx context.Context, ref Reference) error {
	_, err := r.store.Delete(ctx, ref)
	return err
}

// Release removes the intent and reports whether this caller removed it.
func (r *Registry) Release(ctx context.Context, ref Reference) (bool, error) {
	return r.store.Delete(ctx, ref)
}

// Sweep purges expired intents.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.store.Sweep(ctx, r.now())
}

// Pending reports the number of live intents.
func (r *Registry) Pending(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}
