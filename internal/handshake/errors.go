package handshake

import (
	"errors"
	"fmt"
)

// Kind discriminates handshake failures.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNonce      Kind = "nonce"
	KindToken      Kind = "token"
	KindDecode     Kind = "decode"
	KindMismatch   Kind = "upstream_mismatch"
)

var (
	// ErrNonceMismatch marks a verdict whose echoed nonce is not the one issued
	// for this attempt. Decoders may wrap it to report a relay-side mismatch.
	ErrNonceMismatch = errors.New("verdict nonce does not match issued nonce")

	// ErrSuperseded is returned by a flow whose attempt was replaced by a newer
	// one before it finished.
	ErrSuperseded = errors.New("attempt superseded")
)

// Error is a failed handshake step.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" for other errors.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}
