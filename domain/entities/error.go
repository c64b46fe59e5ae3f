package entities

import "fmt"

// ErrorDetail is the structured error document returned by the admin API and
// logged at the invocation boundary.
// Types: "unknown_buffer", "not_found", "decode", "internal".
type ErrorDetail struct {
	Details map[string]any `json:"details,omitempty"`

	Message string `json:"message"`
	Type    string `json:"type"`

	// Code is a machine-readable code such as the failing operation.
	Code string `json:"code,omitempty"`

	// Status is the HTTP status the error maps to.
	Status int `json:"status"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	return msg
}

// WithDetails attaches details and returns the receiver.
func (e *ErrorDetail) WithDetails(details map[string]any) *ErrorDetail {
	e.Details = details
	return e
}
