package relay

import (
	"errors"
	"fmt"
)

// Kind discriminates relay failures.
type Kind string

const (
	KindInvalidRequest             Kind = "invalid_request"
	KindServiceAccountFileNotFound Kind = "service_account_file_not_found"
	KindCredentials                Kind = "credentials_error"
	KindUpstream                   Kind = "upstream_error"
	KindTransport                  Kind = "transport_error"
)

// Error is returned by every failing Relay call.
type Error struct {
	Kind     Kind
	Strategy string // request strategy that produced the error, if any
	Status   int    // upstream HTTP status for KindUpstream
	Body     string // upstream response body for KindUpstream
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Kind == KindUpstream && e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Strategy != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Strategy, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func invalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}
