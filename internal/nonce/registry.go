package nonce

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

const maxIssueAttempts = 3

// Registry issues and consumes nonces on top of a Store.
type Registry struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEntropy replaces crypto/rand as the random source. Only tests should
// use this.
func WithEntropy(src io.Reader) Option {
	return func(r *Registry) {
		if src != nil {
			r.entropy = src
		}
	}
}

// NewRegistry constructs a Registry over store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		ttl:     DefaultTTL,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TTL returns the lifetime given to issued nonces.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Issue creates and stores a fresh nonce.
func (r *Registry) Issue(ctx context.Context) (Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		now := r.now()
		rec, err := r.newRecord(now)
		if err != nil {
			return Record{}, err
		}
		err = r.store.Put(ctx, rec, now)
		if err == nil {
			issuedTotal.Inc()
			return rec, nil
		}
		if !errors.Is(err, ErrDuplicateID) && !errors.Is(err, ErrDuplicateValue) {
			return Record{}, fmt.Errorf("store nonce: %w", err)
		}
		lastErr = err
	}
	return Record{}, fmt.Errorf("issue nonce: %w", lastErr)
}

// Consume marks the nonce identified by id as used and returns it. It fails
// with ErrNotFound, ErrExpired or ErrAlreadyUsed.
func (r *Registry) Consume(ctx context.Context, id string) (Record, error) {
	rec, err := r.store.Consume(ctx, id, r.now())
	consumeTotal.WithLabelValues(consumeResult(err)).Inc()
	return rec, err
}

// Lookup returns the record without mutating it.
func (r *Registry) Lookup(ctx context.Context, id string) (Record, error) {
	return r.store.Get(ctx, id)
}

func (r *Registry) newRecord(now time.Time) (Record, error) {
	id := make([]byte, idBytes)
	if _, err := io.ReadFull(r.entropy, id); err != nil {
		return Record{}, fmt.Errorf("generate nonce id: %w", err)
	}
	value := make([]byte, ValueBytes)
	if _, err := io.ReadFull(r.entropy, value); err != nil {
		return Record{}, fmt.Errorf("generate nonce value: %w", err)
	}
	return Record{
		ID:        Encode(id),
		Value:     Encode(value),
		ExpiresAt: now.Add(r.ttl),
	}, nil
}

func consumeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	default:
		return "error"
	}
}
