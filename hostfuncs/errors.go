package hostfuncs

import (
	"encoding/json"
	"errors"

	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
)

var (
	errNoHTTPClient = errors.New("outbound http is not configured")
	errNoCaller     = errors.New("nested calls are not configured")
	errNoStatus     = errors.New("status is not configured")
	errNoStore      = errors.New("database export is not configured")
	errNoVerifier   = errors.New("no trusted token keys are configured")
)

// ErrorResponse is the structured error document returned by admin
// operations instead of a transport-level failure.
type ErrorResponse struct {
	// Error is a machine-readable error type identifier (e.g., "VALIDATION_ERROR", "INTERNAL_ERROR").
	Error string `json:"error"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Code is the HTTP status the error maps to.
	Code int `json:"code"`
}

// ToJSON serializes the ErrorResponse to JSON bytes.
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// NewValidationError creates an error response for bad input (e.g., malformed JSON).
func NewValidationError(message string) ErrorResponse {
	return ErrorResponse{
		Error:   "VALIDATION_ERROR",
		Message: message,
		Code:    400,
	}
}

// NewNotFoundError creates an error response for unknown operations and
// missing resources.
func NewNotFoundError(message string) ErrorResponse {
	return ErrorResponse{
		Error:   "NOT_FOUND",
		Message: message,
		Code:    404,
	}
}

// NewInternalError creates an error response for unexpected failures.
func NewInternalError(message string) ErrorResponse {
	return ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: message,
		Code:    500,
	}
}

// NewPanicError creates an error response for recovered panics.
func NewPanicError(panicValue any) ErrorResponse {
	var msg string
	if err, ok := panicValue.(error); ok {
		msg = err.Error()
	} else if s, ok := panicValue.(string); ok {
		msg = s
	} else {
		msg = "panic recovered"
	}
	return NewInternalError("panic: " + msg)
}

// ErrorResponseFrom maps a domain error onto an ErrorResponse.
func ErrorResponseFrom(err error) ErrorResponse {
	detail := domainerrors.ToErrorDetail(err)
	switch detail.Type {
	case "not_found":
		return NewNotFoundError(detail.Message)
	case "decode", "unknown_buffer":
		return NewValidationError(detail.Message)
	}
	return NewInternalError(detail.Message)
}

// IsErrorResponse reports whether payload is an ErrorResponse document and
// returns it.
func IsErrorResponse(payload []byte) (ErrorResponse, bool) {
	var resp ErrorResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resp, false
	}
	return resp, resp.Error != "" && resp.Code != 0
}
