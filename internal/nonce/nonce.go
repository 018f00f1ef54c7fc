// Package nonce issues single-use, time-bounded nonces that bind an
// attestation token request to one handshake.
package nonce

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long an issued nonce stays consumable.
	DefaultTTL = 2 * time.Minute

	// ValueBytes is the number of random bytes behind every issued value.
	ValueBytes = 32

	// Decoded length bounds accepted by the attestation authority.
	MinValueBytes = 16
	MaxValueBytes = 500

	idBytes = 9 // 12 characters once encoded
)

var (
	ErrNotFound       = errors.New("nonce not found")
	ErrExpired        = errors.New("nonce expired")
	ErrAlreadyUsed    = errors.New("nonce already used")
	ErrDuplicateID    = errors.New("nonce id already exists")
	ErrDuplicateValue = errors.New("nonce value already issued")
)

// Record is the server-side view of an issued nonce.
type Record struct {
	ID        string    `json:"nonceId"`
	Value     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists nonce records. Put must be atomic per ID and reject an ID or
// value that is already present. Consume must check-and-mark atomically so a
// record is handed out at most once.
type Store interface {
	Put(ctx context.Context, rec Record, now time.Time) error
	Get(ctx context.Context, id string) (Record, error)
	Consume(ctx context.Context, id string, now time.Time) (Record, error)
	Close() error
}

// checkConsumable applies the consume rules in order: expired, then used.
func checkConsumable(rec Record, now time.Time) error {
	if rec.Expired(now) {
		return ErrExpired
	}
	if rec.Used {
		return ErrAlreadyUsed
	}
	return nil
}

// Encode returns the RFC 4648 URL-safe, unpadded form of raw.
func Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ValidateValue checks that v is URL-safe unpadded base64 whose decoded
// length is within the authority's accepted range.
func ValidateValue(v string) error {
	if strings.ContainsAny(v, "+/=") {
		return fmt.Errorf("nonce must be URL-safe base64 without padding")
	}
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}
	if len(raw) < MinValueBytes || len(raw) > MaxValueBytes {
		return fmt.Errorf("nonce decodes to %d bytes; want %d..%d", len(raw), MinValueBytes, MaxValueBytes)
	}
	return nil
}
