// README: Structured error kinds shared by every module and mapped to HTTP by the transport layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInvalidState          Kind = "invalid_state"
	KindInvalidTransition     Kind = "invalid_transition"
	KindAlreadyTaken          Kind = "already_taken"
	KindExpired               Kind = "expired"
	KindOutsideServiceArea    Kind = "outside_service_area"
	KindTooManyActiveRequests Kind = "too_many_active_requests"
	KindUnauthorized          Kind = "unauthorized"
	KindConfiguration         Kind = "configuration_error"
	KindBadRequest            Kind = "bad_request"
	KindConflict              Kind = "conflict"
	KindInternal              Kind = "internal"
)

// Error is a failure with a kind and a human readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Reason
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind, so errors.Is(err, ErrExpired)
// holds for any Expired failure regardless of its reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrAlreadyTaken          = &Error{Kind: KindAlreadyTaken}
	ErrExpired               = &Error{Kind: KindExpired}
	ErrOutsideServiceArea    = &Error{Kind: KindOutsideServiceArea}
	ErrTooManyActiveRequests = &Error{Kind: KindTooManyActiveRequests}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrBadRequest            = &Error{Kind: KindBadRequest}
	ErrConflict              = &Error{Kind: KindConflict}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
