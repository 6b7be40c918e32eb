// Package errs defines the error taxonomy shared across mechtron's
// subsystems (spec §7). Errors wrap a Kind so callers can switch on
// category without string matching, following the teacher's
// fmt.Errorf("...: %w", err) wrapping style.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category, not a specific error value.
type Kind int

const (
	NotFound Kind = iota
	AlreadyExists
	SchemaMismatch
	TypeMismatch
	MissingField
	ProtocolViolation
	LockPoisoned
	StateTainted
	UnknownPort
	UnknownApi
	TransportError
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case SchemaMismatch:
		return "schema_mismatch"
	case TypeMismatch:
		return "type_mismatch"
	case MissingField:
		return "missing_field"
	case ProtocolViolation:
		return "protocol_violation"
	case LockPoisoned:
		return "lock_poisoned"
	case StateTainted:
		return "state_tainted"
	case UnknownPort:
		return "unknown_port"
	case UnknownApi:
		return "unknown_api"
	case TransportError:
		return "transport_error"
	case ConfigurationError:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new Kind-tagged error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a Kind.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
