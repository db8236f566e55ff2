// Package apperr classifies failures so callers can pick a recovery action
// without string-matching. Every classified error carries the operation name
// and how many attempts were made.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindCircuitOpen      Kind = "circuit_open"
	KindValidation       Kind = "validation"
	KindInsufficientData Kind = "insufficient_data"
	KindAuthentication   Kind = "authentication"
	KindSessionState     Kind = "session_state"
)

// Error is the classified error type used across the delivery engine.
type Error struct {
	Kind     Kind
	Op       string // logical operation, e.g. "record_response"
	Attempts int    // attempts made before giving up (0 when not applicable)
	Err      error  // underlying cause, may be nil
	Msg      string
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s (%s, %d attempts)", e.Op, msg, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: KindTimeout}) style matching on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Network tags a transport-level failure.
func Network(op string, err error) *Error { return Wrap(KindNetwork, op, err) }

// Timeout tags an operation that exceeded its tier budget.
func Timeout(op string, budget time.Duration) *Error {
	return &Error{Kind: KindTimeout, Op: op, Msg: fmt.Sprintf("exceeded %s budget", budget)}
}

// CircuitOpen tags a call rejected without being attempted because the
// dependency's breaker is open.
func CircuitOpen(op, dependency string, until time.Time) *Error {
	return &Error{
		Kind: KindCircuitOpen,
		Op:   op,
		Msg:  fmt.Sprintf("circuit for %q open until %s", dependency, until.Format(time.RFC3339)),
	}
}

func Validation(op, msg string) *Error { return New(KindValidation, op, msg) }

func InsufficientData(op, msg string) *Error { return New(KindInsufficientData, op, msg) }

func Authentication(op, msg string) *Error { return New(KindAuthentication, op, msg) }

// SessionState tags an illegal lifecycle transition. Callers treat it as a
// no-op-with-error, never a crash.
func SessionState(op string, from, to string) *Error {
	return &Error{Kind: KindSessionState, Op: op, Msg: fmt.Sprintf("illegal transition %s -> %s", from, to)}
}
