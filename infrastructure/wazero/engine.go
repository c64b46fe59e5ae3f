package wazero

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
	"go.uber.org/zap/zapcore"

	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/domain/ports"
)

// ContentType is the blob content type of WebAssembly modules.
const ContentType = "application/wasm"

// Engine runs WebAssembly guests on one wazero runtime. Compiled modules are
// cached by technical id; every call gets a fresh anonymous instance, so
// instances are never re-entered.
type Engine struct {
	runtime  wazero.Runtime
	cfg      AdapterConfig
	logger   *zap.Logger
	compiled map[string]wazero.CompiledModule
	mu       sync.Mutex
}

// NewEngine creates the runtime, instantiates WASI and the host module, and
// registers registry operations when the config carries one.
func NewEngine(ctx context.Context, logger *zap.Logger, opts ...AdapterOption) (*Engine, error) {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CompilationCacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, fmt.Errorf("open compilation cache: %w", err)
		}
		rc = rc.WithCompilationCache(cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	e := &Engine{
		runtime:  rt,
		cfg:      cfg,
		logger:   logger.Named("wazero"),
		compiled: make(map[string]wazero.CompiledModule),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	if err := RegisterHostModule(ctx, rt, e.logger, opts...); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("register host module: %w", err)
	}
	if cfg.Registry != nil {
		if err := RegisterWithRuntime(ctx, rt, cfg.Registry, e.logger, opts...); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("register admin module: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) compile(ctx context.Context, call ports.ModuleCall) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if call.TechID != "" {
		if c, ok := e.compiled[call.TechID]; ok {
			return c, nil
		}
	}
	c, err := e.runtime.CompileModule(ctx, call.Code)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", call.Name, err)
	}
	if call.TechID != "" {
		e.compiled[call.TechID] = c
	}
	return c, nil
}

// Execute implements ports.Engine.
func (e *Engine) Execute(ctx context.Context, call ports.ModuleCall) (int32, error) {
	compiled, err := e.compile(ctx, call)
	if err != nil {
		return 0, err
	}

	stderr := &zapio.Writer{Log: e.logger.With(zap.String("module", call.Name)), Level: zapcore.DebugLevel}
	defer stderr.Close()

	mc := wazero.NewModuleConfig().
		WithName("").
		WithSysWalltime().
		WithSysNanotime().
		WithStderr(stderr)

	if call.Mode == entities.ModePOSIX {
		mc = mc.WithArgs(call.Argv...).WithStdin(call.Stdin).WithStdout(call.Stdout)
		mod, err := e.runtime.InstantiateModule(ctx, compiled, mc)
		if mod != nil {
			defer mod.Close(ctx)
		}
		return exitStatus(ctx, err)
	}

	mc = mc.WithStartFunctions("_initialize").WithStdout(stderr)
	mod, err := e.runtime.InstantiateModule(ctx, compiled, mc)
	if err != nil {
		return 0, fmt.Errorf("instantiate %s: %w", call.Name, err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(call.EntryPoint)
	if fn == nil {
		return 0, fmt.Errorf("module %s has no export %q", call.Name, call.EntryPoint)
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != len(call.Args) {
		return 0, fmt.Errorf("%s.%s takes %d arguments, got %d", call.Name, call.EntryPoint, len(def.ParamTypes()), len(call.Args))
	}
	if len(def.ResultTypes()) != 1 || def.ResultTypes()[0] != api.ValueTypeI32 {
		return 0, fmt.Errorf("%s.%s must return a single i32", call.Name, call.EntryPoint)
	}

	params := make([]uint64, len(call.Args))
	for i, a := range call.Args {
		params[i] = api.EncodeI32(a)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, trapError(ctx, err)
	}
	return api.DecodeI32(results[0]), nil
}

// exitStatus maps the outcome of a POSIX run onto its exit code.
func exitStatus(ctx context.Context, err error) (int32, error) {
	if err == nil {
		return 0, nil
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return 0, trapError(ctx, err)
		}
		return int32(exit.ExitCode()), nil
	}
	return 0, trapError(ctx, err)
}

func trapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("guest interrupted: %w", ctxErr)
	}
	return fmt.Errorf("guest trapped: %w", err)
}

// Close releases the runtime and every compiled module.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.compiled = make(map[string]wazero.CompiledModule)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
