// Package apperrors carries coded service failures to the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure for transport mapping.
type Kind string

const (
	KindInvalid          Kind = "invalid"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindTooLarge         Kind = "too_large"
	KindUnsupportedMedia Kind = "unsupported_media"
	KindUpstream         Kind = "upstream"
	KindInternal         Kind = "internal"
)

// Error is a service error identified by "<operation>.<reason>".
type Error struct {
	code           string
	reason         string
	kind           Kind
	message        string
	upstreamStatus int
	err            error
}

// New builds an Error for the operation and reason.
func New(operation, reason string, kind Kind, message string, cause error) *Error {
	return &Error{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		reason:  reason,
		kind:    kind,
		message: message,
		err:     cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the fully qualified code, e.g. forms.save_form.invalid_json.
func (e *Error) Code() string {
	return e.code
}

// Reason returns the short reason segment, e.g. invalid_json.
func (e *Error) Reason() string {
	return e.reason
}

func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the human readable message, falling back to the reason.
func (e *Error) Message() string {
	if strings.TrimSpace(e.message) != "" {
		return e.message
	}
	return strings.ReplaceAll(e.reason, "_", " ")
}

// WithUpstreamStatus records the status returned by a remote endpoint.
func (e *Error) WithUpstreamStatus(status int) *Error {
	e.upstreamStatus = status
	return e
}

// UpstreamStatus returns the remote status code, or zero when none was received.
func (e *Error) UpstreamStatus() int {
	return e.upstreamStatus
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	target, ok := As(err)
	return ok && target.kind == kind
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	target, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch target.kind {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case KindUpstream:
		if target.upstreamStatus >= 400 && target.upstreamStatus <= 599 {
			return target.upstreamStatus
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
