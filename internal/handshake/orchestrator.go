// Package handshake drives the client side of an attestation exchange:
// fetch a nonce from the relay, have the device attest over it, and submit
// the resulting token for decoding.
package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/risk"
)

// Phase is a handshake state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNonceRequested
	PhaseTokenRequested
	PhaseDecoding
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNonceRequested:
		return "nonce_requested"
	case PhaseTokenRequested:
		return "token_requested"
	case PhaseDecoding:
		return "decoding"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Nonce is what the relay hands out.
type Nonce struct {
	ID    string `json:"nonceId"`
	Value string `json:"nonce"`
}

// TokenRequest is passed to the device attestation primitive.
type TokenRequest struct {
	Nonce              string
	PackageName        string
	CloudProjectNumber int64
}

// DecodeRequest is submitted to the relay.
type DecodeRequest struct {
	PackageName string
	Token       string
	NonceID     string
}

type NonceSource interface {
	Issue(ctx context.Context) (Nonce, error)
}

type TokenProvider interface {
	RequestToken(ctx context.Context, req TokenRequest) (string, error)
}

type Decoder interface {
	Decode(ctx context.Context, req DecodeRequest) (*integrity.Verdict, error)
}

type RootChecker interface {
	Run(ctx context.Context) (*integrity.RootReport, error)
}

// Outcome is everything one attempt produced, including partial progress.
type Outcome struct {
	Phase   Phase
	Nonce   *Nonce
	Token   string
	Verdict *integrity.Verdict
}

// Score computes the risk score for the outcome's verdict and root.
func (o *Outcome) Score(root *integrity.RootReport) int {
	if o == nil {
		return risk.Compute(root, nil)
	}
	return risk.Compute(root, o.Verdict)
}

// Orchestrator runs one attestation handshake per Run call.
type Orchestrator struct {
	Nonces             NonceSource
	Tokens             TokenProvider
	Decoder            Decoder
	PackageName        string
	CloudProjectNumber int64
}

// Run executes nonce, token and decode in order. onPhase, when non-nil, is
// called on every transition. The returned Outcome is never nil; on error it
// holds whatever was obtained before the failure. A verdict whose nonce does
// not match is never placed in the Outcome.
func (o *Orchestrator) Run(ctx context.Context, onPhase func(Phase, *Outcome)) (*Outcome, error) {
	out := &Outcome{Phase: PhaseIdle}
	enter := func(p Phase) {
		out.Phase = p
		if onPhase != nil {
			onPhase(p, out)
		}
	}
	fail := func(kind Kind, err error) (*Outcome, error) {
		enter(PhaseFailed)
		return out, &Error{Kind: kind, Err: err}
	}

	if o.PackageName == "" {
		return fail(KindValidation, errors.New("package name is required"))
	}
	if o.Nonces == nil || o.Tokens == nil || o.Decoder == nil {
		return fail(KindValidation, errors.New("handshake is missing a collaborator"))
	}

	enter(PhaseNonceRequested)
	n, err := o.Nonces.Issue(ctx)
	if err != nil {
		return fail(KindNonce, err)
	}
	if n.Value == "" {
		return fail(KindNonce, errors.New("relay returned an empty nonce"))
	}
	out.Nonce = &n

	enter(PhaseTokenRequested)
	token, err := o.Tokens.RequestToken(ctx, TokenRequest{
		Nonce:              n.Value,
		PackageName:        o.PackageName,
		CloudProjectNumber: o.CloudProjectNumber,
	})
	if err != nil {
		return fail(KindToken, err)
	}
	if token == "" {
		return fail(KindToken, errors.New("attestation provider returned an empty token"))
	}
	out.Token = token

	enter(PhaseDecoding)
	v, err := o.Decoder.Decode(ctx, DecodeRequest{PackageName: o.PackageName, Token: token, NonceID: n.ID})
	if err != nil {
		if errors.Is(err, ErrNonceMismatch) {
			return fail(KindMismatch, err)
		}
		return fail(KindDecode, err)
	}
	if got := v.Nonce(); got != n.Value {
		return fail(KindMismatch, fmt.Errorf("%w: issued %q, verdict echoed %q", ErrNonceMismatch, n.Value, got))
	}
	out.Verdict = v

	enter(PhaseDone)
	return out, nil
}
