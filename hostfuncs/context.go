package hostfuncs

import (
	"context"
)

// HostContext is the context handed to registry handlers. It carries the
// name of the operation being invoked so middleware can label its output.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the invoked operation.
	FunctionName() string
}

type hostContext struct {
	context.Context
	funcName string
}

func (c *hostContext) FunctionName() string { return c.funcName }

// NewHostContext wraps ctx for the operation funcName. An enclosing
// HostContext is shadowed, so nested invocations report their own name.
func NewHostContext(ctx context.Context, funcName string) HostContext {
	return &hostContext{Context: ctx, funcName: funcName}
}

// FunctionNameFrom returns the operation name carried by ctx, or "unknown".
func FunctionNameFrom(ctx context.Context) string {
	if hc, ok := ctx.(HostContext); ok {
		return hc.FunctionName()
	}
	return "unknown"
}

type apiKey struct{}

// WithAPI returns a context carrying the capability table of an invocation.
// Engine adapters retrieve it when a guest calls back into the host.
func WithAPI(ctx context.Context, api *API) context.Context {
	return context.WithValue(ctx, apiKey{}, api)
}

// APIFromContext returns the capability table stored by WithAPI.
func APIFromContext(ctx context.Context) (*API, bool) {
	api, ok := ctx.Value(apiKey{}).(*API)
	return api, ok && api != nil
}
