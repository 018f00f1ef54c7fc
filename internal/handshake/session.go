package handshake

import (
	"context"
	"sync"

	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/risk"
)

// State is a snapshot of both client flows.
type State struct {
	RootLoading bool
	Root        *integrity.RootReport
	RootErr     error

	Phase            Phase
	HandshakeLoading bool
	Nonce            *Nonce
	Token            string
	Verdict          *integrity.Verdict
	HandshakeErr     error

	// Set once the handshake is done.
	Score   *int
	Signals []risk.Signal
}

// Session holds the visible state of the root-check flow and the handshake
// flow. The two run independently. Starting a flow cancels the previous
// attempt of that flow, and a result is committed only while its attempt is
// still the latest one.
type Session struct {
	orch  *Orchestrator
	roots RootChecker

	mu          sync.Mutex
	state       State
	rootAttempt uint64
	hsAttempt   uint64
	rootCancel  context.CancelFunc
	hsCancel    context.CancelFunc
	onChange    func(State)
}

// NewSession returns an idle Session. onChange, when non-nil, receives every
// committed state; it is called with the session lock held and must not call
// back into the Session.
func NewSession(orch *Orchestrator, roots RootChecker, onChange func(State)) *Session {
	return &Session{orch: orch, roots: roots, onChange: onChange}
}

// State returns a snapshot, deriving the score when the handshake is done.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	if st.Phase == PhaseDone && st.Verdict != nil {
		signals, score := risk.Explain(st.Root, st.Verdict)
		st.Score = &score
		st.Signals = signals
	}
	return st
}

// RunRootChecks runs the root checker and blocks until it finishes or is
// superseded.
func (s *Session) RunRootChecks(ctx context.Context) error {
	ctx, attempt := s.beginRoot(ctx)

	report, err := s.roots.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.rootAttempt {
		return ErrSuperseded
	}
	s.rootCancel()
	s.rootCancel = nil
	s.state.RootLoading = false
	if err != nil {
		s.state.RootErr = err
	} else {
		s.state.Root = report
		s.state.RootErr = nil
	}
	s.notifyLocked()
	return err
}

// RequestIntegrity runs one handshake attempt and blocks until it finishes
// or is superseded. A token obtained before a decode failure stays visible.
func (s *Session) RequestIntegrity(ctx context.Context) error {
	ctx, attempt := s.beginHandshake(ctx)

	out, err := s.orch.Run(ctx, func(p Phase, o *Outcome) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if attempt != s.hsAttempt {
			return
		}
		s.state.Phase = p
		s.state.Nonce = o.Nonce
		s.state.Token = o.Token
		s.notifyLocked()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.hsAttempt {
		return ErrSuperseded
	}
	s.hsCancel()
	s.hsCancel = nil
	s.state.HandshakeLoading = false
	s.state.Phase = out.Phase
	s.state.Nonce = out.Nonce
	s.state.Token = out.Token
	s.state.Verdict = out.Verdict
	if err != nil {
		s.state.HandshakeErr = err
	} else {
		s.state.HandshakeErr = nil
	}
	s.notifyLocked()
	return err
}

// Close cancels any in-flight attempts.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootCancel != nil {
		s.rootCancel()
	}
	if s.hsCancel != nil {
		s.hsCancel()
	}
}

func (s *Session) beginRoot(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootCancel != nil {
		s.rootCancel()
	}
	s.rootAttempt++
	s.rootCancel = cancel
	s.state.RootLoading = true
	s.notifyLocked()
	return ctx, s.rootAttempt
}

func (s *Session) beginHandshake(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hsCancel != nil {
		s.hsCancel()
	}
	s.hsAttempt++
	s.hsCancel = cancel
	s.state.HandshakeLoading = true
	s.state.Phase = PhaseIdle
	s.state.Nonce = nil
	s.state.Token = ""
	s.state.Verdict = nil
	s.notifyLocked()
	return ctx, s.hsAttempt
}

func (s *Session) notifyLocked() {
	if s.onChange != nil {
		s.onChange(s.snapshotLocked())
	}
}
