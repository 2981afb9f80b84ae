// Package apperr defines the error kinds surfaced by boundary handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for boundary translation.
type Kind string

const (
	KindConfigurationInvalid Kind = "configuration-invalid"
	KindConnectionFailed     Kind = "connection-failed"
	KindProtocolInvalid      Kind = "protocol-invalid"
	KindNotFound             Kind = "not-found"
	KindUnauthorized         Kind = "unauthorized"
	KindBadRequest           Kind = "bad-request"
	KindInternal             Kind = "internal"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a plain message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal when none is found.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code returned at the API boundary.
// Remote failures are reported as service unavailable.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfigurationInvalid, KindBadRequest:
		return http.StatusBadRequest
	case KindConnectionFailed, KindProtocolInvalid:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Code renders the "<kind>:<surface>" code used in API error bodies.
func Code(kind Kind, surface string) string {
	return string(kind) + ":" + surface
}
