package nonce

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewRegistry(NewMemoryStore(0), opts...), clock
}

func TestIssueFormat(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec, err := reg.Issue(context.Background())
	require.NoError(t, err)

	assert.False(t, strings.ContainsAny(rec.Value, "+/="), "value %q is not URL-safe unpadded", rec.Value)
	raw, err := base64.RawURLEncoding.DecodeString(rec.Value)
	require.NoError(t, err)
	assert.Len(t, raw, ValueBytes)
	assert.NoError(t, ValidateValue(rec.Value))

	assert.Len(t, rec.ID, 12)
	assert.False(t, rec.Used)
}

func TestIssueUnique(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	values := make(map[string]struct{}, 10000)
	ids := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		rec, err := reg.Issue(ctx)
		require.NoError(t, err)
		if _, dup := values[rec.Value]; dup {
			t.Fatalf("duplicate value after %d issues", i)
		}
		if _, dup := ids[rec.ID]; dup {
			t.Fatalf("duplicate id after %d issues", i)
		}
		values[rec.Value] = struct{}{}
		ids[rec.ID] = struct{}{}
	}
}

func TestIssueConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	const workers, perWorker = 8, 200
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec, err := reg.Issue(ctx)
				if err != nil {
					t.Errorf("Issue: %v", err)
					return
				}
				mu.Lock()
				seen[rec.Value] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestIssueRetriesOnCollision(t *testing.T) {
	// Every read returns the same bytes, so the second Issue collides on
	// every attempt and gives up.
	fixed := bytes.Repeat([]byte{0x42}, 4096)
	reg, _ := newTestRegistry(t, WithEntropy(&repeatReader{b: fixed}))
	ctx := context.Background()

	_, err := reg.Issue(ctx)
	require.NoError(t, err)
	_, err = reg.Issue(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

type repeatReader struct{ b []byte }

func (r *repeatReader) Read(p []byte) (int, error) {
	return copy(p, r.b), nil
}

func TestConsumeSingleUse(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := reg.Issue(ctx)
	require.NoError(t, err)

	got, err := reg.Consume(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)

	_, err = reg.Consume(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestConsumeExpired(t *testing.T) {
	reg, clock := newTestRegistry(t)
	ctx := context.Background()

	rec, err := reg.Issue(ctx)
	require.NoError(t, err)

	clock.Advance(reg.TTL() + time.Second)
	_, err = reg.Consume(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrExpired)

	// A failed consume never marks the record used.
	stored, err := reg.Lookup(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Used)
}

func TestConsumeWithinTTL(t *testing.T) {
	reg, clock := newTestRegistry(t, WithTTL(30*time.Second))
	ctx := context.Background()

	rec, err := reg.Issue(ctx)
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(clock.Now().Add(30*time.Second)))

	clock.Advance(29 * time.Second)
	_, err = reg.Consume(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestConsumeUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Consume(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueStoreFailure(t *testing.T) {
	reg := NewRegistry(failingStore{})
	_, err := reg.Issue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store nonce")
}

type failingStore struct{}

func (failingStore) Put(context.Context, Record, time.Time) error { return errors.New("disk full") }
func (failingStore) Get(context.Context, string) (Record, error)  { return Record{}, ErrNotFound }
func (failingStore) Consume(context.Context, string, time.Time) (Record, error) {
	return Record{}, ErrNotFound
}
func (failingStore) Close() error { return nil }

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"32 bytes", Encode(make([]byte, 32)), false},
		{"16 bytes", Encode(make([]byte, 16)), false},
		{"too short", Encode(make([]byte, 15)), true},
		{"too long", Encode(make([]byte, 501)), true},
		{"padded", base64.URLEncoding.EncodeToString(make([]byte, 32)), true},
		{"std alphabet", strings.Repeat("+", 24), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateValue(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateValue(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}
