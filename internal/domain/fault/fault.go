// Package fault defines the stable error taxonomy shared by the lifecycle
// engine. State machines return Fault values for expected business
// conditions instead of raw errors, so callers can branch on a
// machine-readable code and API layers can drive retry policy mechanically.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code classifies a failure for callers and retry policies.
type Code string

const (
	// Validation marks malformed input rejected before any mutation.
	Validation Code = "validation"
	// InvalidTransition marks a business-rule violation: the requested
	// status change is not an edge of the transition table.
	InvalidTransition Code = "invalid_transition"
	// NotFound marks a missing referenced entity.
	NotFound Code = "not_found"
	// External marks a gateway failure: unreachable, timed out, or rejected.
	External Code = "external"
	// Conflict marks a concurrent transition detected on the same order;
	// the caller should retry the whole command.
	Conflict Code = "conflict"
	// Internal marks an unexpected fault surfaced as an opaque failure.
	Internal Code = "internal"
)

// Fault is a typed business failure carrying a stable code and a
// human-readable message. It never wraps a panic and is safe to return to
// API callers.
type Fault struct {
	Code    Code
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a Fault with the given code and message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a Fault.
func Wrap(err error, code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// From extracts a Fault from err, or wraps err as Internal when it carries
// no taxonomy code. A nil err yields nil.
func From(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: Internal, Message: "internal error", Err: err}
}

// CodeOf reports the taxonomy code of err, defaulting to Internal.
func CodeOf(err error) Code {
	if f := From(err); f != nil {
		return f.Code
	}
	return Internal
}

// Retryable reports whether the condition is transient: the command may be
// retried verbatim. Terminal conditions (InvalidTransition, NotFound,
// Validation) always return false.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case External, Conflict:
		return true
	default:
		return false
	}
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	f := From(err)
	return f != nil && f.Code == code
}
