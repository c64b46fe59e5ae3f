// Package errors defines the runtime's error taxonomy. Every error that can
// cross the invocation boundary is one of UnknownBufferError, NotFoundError,
// DecodeError or InternalError, and each maps to an HTTP status.
// All types support errors.Is and errors.As.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/moc-dev/moc-runtime/domain/entities"
)

// DetailedError is implemented by errors that can describe themselves as an
// ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts any error into an ErrorDetail. Unknown errors are
// reported as internal.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
		Status:  http.StatusInternalServerError,
	}
}

// StatusCode returns the HTTP status an error maps to.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return ToErrorDetail(err).Status
}

// UnknownBufferError is reported when a handle is not live in the current
// buffer store. Guests never see it; the operation degrades silently.
type UnknownBufferError struct {
	Handle uint32
}

func (e *UnknownBufferError) Error() string {
	return fmt.Sprintf("unknown buffer %d", e.Handle)
}

// ToErrorDetail implements DetailedError.
func (e *UnknownBufferError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "unknown_buffer", Status: http.StatusBadRequest}
}

// NotFoundError is reported for missing routes, blobs, keys and modules.
type NotFoundError struct {
	Kind string // "route", "blob", "key", "engine", ...
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// ToErrorDetail implements DetailedError.
func (e *NotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "not_found", Code: e.Kind, Status: http.StatusNotFound}
}

// DecodeError is reported for malformed input: header maps, base64, JSON.
type DecodeError struct {
	Err  error
	What string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *DecodeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "decode", Code: e.What, Status: http.StatusBadRequest}
}

// InternalError wraps traps, engine failures, storage failures and limit
// violations.
type InternalError struct {
	Err error
	Op  string
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *InternalError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "internal", Code: e.Op, Status: http.StatusInternalServerError}
}

// NotFound is shorthand for &NotFoundError{Kind: kind, Name: name}.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// Internal wraps err as an InternalError for op.
func Internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stdErrors.As(err, &nf)
}
