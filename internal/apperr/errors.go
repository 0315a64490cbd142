// Package apperr defines the error kinds shared by the interview server and
// the capture client, and how they map onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindInvalidInput          Kind = "invalid_input"
	KindNotFound              Kind = "not_found"
	KindUpstreamFailure       Kind = "upstream_failure"
	KindMediaPermissionDenied Kind = "media_permission_denied"
	KindRecordingRetry        Kind = "recording_retry"
	KindInvalidState          Kind = "invalid_state"
	KindConflict              Kind = "conflict"
	KindUnavailable           Kind = "unavailable"
)

// Sentinels for errors.Is checks. Only the Kind is compared.
var (
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUpstreamFailure       = &Error{Kind: KindUpstreamFailure}
	ErrMediaPermissionDenied = &Error{Kind: KindMediaPermissionDenied}
	ErrRecordingRetry        = &Error{Kind: KindRecordingRetry}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrUnavailable           = &Error{Kind: KindUnavailable}
)

// Error carries a Kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message is the caller-facing text without the wrapped cause.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Kind)
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(op, format string, args ...any) *Error {
	return newf(KindInvalidInput, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func InvalidState(op, format string, args ...any) *Error {
	return newf(KindInvalidState, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

func Unavailable(op, format string, args ...any) *Error {
	return newf(KindUnavailable, op, format, args...)
}

// Upstream wraps a collaborator failure.
func Upstream(op string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Op: op, Msg: "upstream call failed", Err: err}
}

// PermissionDenied wraps a refused camera or microphone acquisition.
func PermissionDenied(op string, err error) *Error {
	return &Error{Kind: KindMediaPermissionDenied, Op: op, Msg: "media access denied", Err: err}
}

// RecordingRetry wraps a transient answer submission failure.
func RecordingRetry(op string, err error) *Error {
	return &Error{Kind: KindRecordingRetry, Op: op, Msg: "answer submission failed", Err: err}
}

// KindOf returns the Kind of the first *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindUnavailable, KindRecordingRetry:
		return http.StatusServiceUnavailable
	case KindMediaPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus rebuilds an *Error from a response status and error code.
// The code wins when it names a known kind.
func FromStatus(status int, code, message string) *Error {
	kind := Kind(code)
	switch kind {
	case KindInvalidInput, KindNotFound, KindUpstreamFailure, KindInvalidState,
		KindConflict, KindUnavailable, KindMediaPermissionDenied, KindRecordingRetry:
	default:
		switch status {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
			kind = KindInvalidInput
		case http.StatusNotFound:
			kind = KindNotFound
		case http.StatusConflict:
			kind = KindConflict
		case http.StatusBadGateway, http.StatusGatewayTimeout:
			kind = KindUpstreamFailure
		case http.StatusServiceUnavailable:
			kind = KindUnavailable
		default:
			kind = KindUnknown
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Msg: message}
}
