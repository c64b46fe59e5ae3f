package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"
)

// HostFunc is a typed operation that cannot fail.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// HostFuncE is a typed operation whose error is reported to the caller as an
// ErrorResponse.
type HostFuncE[Req any, Resp any] func(context.Context, Req) (Resp, error)

// ByteHandler accepts a JSON request and returns a JSON response.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler wraps a typed HostFunc into a ByteHandler. Malformed
// requests produce a VALIDATION_ERROR response.
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return NewJSONHandlerE(func(ctx context.Context, req Req) (Resp, error) {
		return fn(ctx, req), nil
	})
}

// NewJSONHandlerE wraps a typed HostFuncE into a ByteHandler. Errors are
// mapped onto ErrorResponse documents by their domain type.
func NewJSONHandlerE[Req any, Resp any](fn HostFuncE[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return NewValidationError(fmt.Sprintf("failed to unmarshal request: %v", err)).ToJSON(), nil
			}
		}

		if v, ok := any(&req).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return NewValidationError(err.Error()).ToJSON(), nil
			}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return ErrorResponseFrom(err).ToJSON(), nil
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}
		return respBytes, nil
	}
}
