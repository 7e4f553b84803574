package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the core. Kinds are matched with
// errors.As / IsKind rather than string comparison.
type Kind string

const (
	KindUnknownDocument    Kind = "unknown_document"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidSlice       Kind = "invalid_slice"
	KindIOFailure          Kind = "io_failure"
	KindSchemaFailure      Kind = "schema_failure"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTimeout            Kind = "timeout"
	KindValidationFailure  Kind = "validation_failure"
	KindConflict           Kind = "conflict"
)

// Error carries a kind, a message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether any error in err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
