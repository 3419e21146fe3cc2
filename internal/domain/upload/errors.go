package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures by how a caller should react.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION_ERROR"
	KindState      ErrorKind = "INVALID_STATE"
	KindConflict   ErrorKind = "OFFSET_MISMATCH"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindIntegrity  ErrorKind = "CHECKSUM_MISMATCH"
	KindAuth       ErrorKind = "UNAUTHORIZED"
)

var (
	ErrValidation       = errors.New("invalid upload request")
	ErrNoChunk          = errors.New("No chunk file was submitted")
	ErrBadContentRange  = errors.New("Error in request headers")
	ErrExpired          = errors.New("Upload has expired")
	ErrAlreadyComplete  = errors.New(`Upload has already been marked as "complete"`)
	ErrAborted          = errors.New(`Upload has already been marked as "aborted"`)
	ErrOffsetMismatch   = errors.New("Offsets do not match")
	ErrNotFound         = errors.New("upload not found")
	ErrChecksumMismatch = errors.New("checksum does not match")
	ErrOwnerRequired    = errors.New("Upload requires user authentication but user cannot be determined")
	ErrOwnerNotAllowed  = errors.New("The owner doesn't allow to be accessible.")
)

// Error is returned by every Service operation that rejects a request.
// Message is safe to show to the caller verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	// set for KindConflict
	ExpectedOffset int64
	ProvidedOffset int64

	cause error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Details returns extra fields for the response body, if any.
func (e *Error) Details() map[string]any {
	if e.Kind != KindConflict {
		return nil
	}
	return map[string]any{
		"expected_offset": e.ExpectedOffset,
		"provided_offset": e.ProvidedOffset,
	}
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	msg := cause.Error()
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func validationError(cause error) *Error {
	return newError(KindValidation, cause, "")
}

func validationErrorf(format string, args ...any) *Error {
	return newError(KindValidation, ErrValidation, format, args...)
}

func notFoundError() *Error {
	return newError(KindNotFound, ErrNotFound, "")
}

func conflictError(expected, provided int64) *Error {
	e := newError(KindConflict, ErrOffsetMismatch, "")
	e.ExpectedOffset, e.ProvidedOffset = expected, provided
	return e
}

// HTTPStatus maps an error from this package to a response status.
// Unknown errors are internal failures.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindState:
		if errors.Is(e, ErrExpired) {
			return http.StatusGone
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
