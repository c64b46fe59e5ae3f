package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/hostfuncs"
)

// NativeContentType is the blob content type served by NativeEngine. The
// blob bytes are the name of a module defined on the engine.
const NativeContentType = "application/x-native-guest"

// GuestFunc is a direct-mode export.
type GuestFunc func(ctx context.Context, g *Guest, args []int32) (int32, error)

// MainFunc is a POSIX-mode entry point.
type MainFunc func(ctx context.Context, g *Guest, argv []string, stdin io.Reader, stdout io.Writer) (int32, error)

// NativeModule is a guest written in Go.
type NativeModule struct {
	Exports map[string]GuestFunc
	Main    MainFunc
}

// NativeEngine runs NativeModules against the capability table carried in
// the call context, the way a WebAssembly guest reaches its host imports.
type NativeEngine struct {
	modules map[string]NativeModule
	calls   atomic.Int64
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewNativeEngine returns an engine with no modules.
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{modules: make(map[string]NativeModule)}
}

// Define makes m available under name.
func (e *NativeEngine) Define(name string, m NativeModule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules[name] = m
}

// Calls returns the number of Execute calls.
func (e *NativeEngine) Calls() int64 { return e.calls.Load() }

// Closed reports whether Close was called.
func (e *NativeEngine) Closed() bool { return e.closed.Load() }

// Execute implements ports.Engine.
func (e *NativeEngine) Execute(ctx context.Context, call ports.ModuleCall) (int32, error) {
	e.calls.Add(1)
	if e.closed.Load() {
		return 0, errors.New("engine closed")
	}

	e.mu.RLock()
	m, ok := e.modules[string(call.Code)]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("module %q is not defined", call.Code)
	}
	api, ok := hostfuncs.APIFromContext(ctx)
	if !ok {
		return 0, errors.New("no capability table in context")
	}
	g := NewGuest(api)

	if call.Mode == entities.ModePOSIX {
		if m.Main == nil {
			return 0, fmt.Errorf("module %q has no main", call.Name)
		}
		return m.Main(ctx, g, call.Argv, call.Stdin, call.Stdout)
	}
	fn, ok := m.Exports[call.EntryPoint]
	if !ok {
		return 0, fmt.Errorf("module %q has no export %q", call.Name, call.EntryPoint)
	}
	return fn(ctx, g, call.Args)
}

// Close implements ports.Engine.
func (e *NativeEngine) Close(context.Context) error {
	e.closed.Store(true)
	return nil
}
