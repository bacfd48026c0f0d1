// Package apperror is the error contract shared by services and HTTP handlers.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the semantic category of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindLimitExceeded
	KindUnavailable
)

// Error carries a kind, the failing operation and a message safe to show to callers.
type Error struct {
	Kind    Kind
	Op      string // e.g. "meetings.StartOrJoin"
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Validation(op, msg string) error { return E(KindValidation, op, msg, nil) }
func Unauthorized(op, msg string) error { return E(KindUnauthorized, op, msg, nil) }
func Forbidden(op, msg string) error { return E(KindForbidden, op, msg, nil) }
func NotFound(op, msg string) error { return E(KindNotFound, op, msg, nil) }
func Conflict(op, msg string) error { return E(KindConflict, op, msg, nil) }
func LimitExceeded(op, msg string) error { return E(KindLimitExceeded, op, msg, nil) }

// Unavailable wraps a backing-store failure. Callers may retry the whole operation.
func Unavailable(op string, err error) error {
	return E(KindUnavailable, op, "backing store unavailable", err)
}

// KindOf returns the kind of err, KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindLimitExceeded:
		return http.StatusPaymentRequired
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code maps err to the wire error code clients switch on.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation:
		return "invalid_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindUnavailable:
		return "store_unavailable"
	default:
		return "internal"
	}
}
