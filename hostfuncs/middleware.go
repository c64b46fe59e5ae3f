package hostfuncs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next ByteHandler) ByteHandler

// RegistryOption is a functional option for configuring a HandlerRegistry.
type RegistryOption func(*registryBuilder)

// PanicRecoveryMiddleware converts panics into an INTERNAL_ERROR response
// instead of crashing the host.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = NewPanicError(r).ToJSON()
					err = nil // Return JSON error, not Go error
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware logs every operation with its outcome and duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			funcName := FunctionNameFrom(ctx)
			start := time.Now()
			resp, err := next(ctx, payload)
			fields := []zap.Field{
				zap.String("operation", funcName),
				zap.Int("request_bytes", len(payload)),
				zap.Duration("elapsed", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Warn("operation failed", append(fields, zap.Error(err))...)
			default:
				if er, isErr := IsErrorResponse(resp); isErr {
					logger.Info("operation rejected", append(fields, zap.String("error", er.Error), zap.String("message", er.Message))...)
				} else {
					logger.Debug("operation completed", fields...)
				}
			}
			return resp, err
		}
	}
}
