package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/hostfuncs"
)

// AdapterConfig holds configuration for the engine and its host modules.
type AdapterConfig struct {
	// Registry, when set, is exported to guests under AdminModuleName.
	Registry *hostfuncs.HandlerRegistry

	// ModuleName is the capability host module name (default: "moc").
	ModuleName string

	// AdminModuleName is the host module exporting registry operations
	// (default: "moc_admin").
	AdminModuleName string

	// CompilationCacheDir persists compiled modules across restarts.
	CompilationCacheDir string

	// CustomHandlers are extra functions exported by the capability module.
	CustomHandlers []CustomHandler

	// MaxRequestSize limits every byte argument read from guest memory.
	// Default is 1MB.
	MaxRequestSize uint32

	// MemoryLimitPages caps guest linear memory in 64KiB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32
}

// CustomHandler is a wazero function exported next to the capability table.
type CustomHandler struct {
	// Name is the exported function name.
	Name string

	// Handler is the wazero GoModuleFunc implementation.
	Handler api.GoModuleFunc

	// ParamTypes are the WASM parameter types.
	ParamTypes []api.ValueType

	// ResultTypes are the WASM result types.
	ResultTypes []api.ValueType
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the capability host module name (default: "moc").
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxRequestSize sets the maximum size of a byte argument read from
// guest memory.
func WithMaxRequestSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxRequestSize = size
	}
}

// WithMemoryLimitPages caps guest memory.
func WithMemoryLimitPages(pages uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MemoryLimitPages = pages
	}
}

// WithCompilationCacheDir enables the on-disk compilation cache.
func WithCompilationCacheDir(dir string) AdapterOption {
	return func(c *AdapterConfig) {
		c.CompilationCacheDir = dir
	}
}

// WithRegistry exports the operations of registry to guests.
func WithRegistry(registry *hostfuncs.HandlerRegistry) AdapterOption {
	return func(c *AdapterConfig) {
		c.Registry = registry
	}
}

// WithCustomHandler adds a custom wazero handler.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName:      "moc",
		AdminModuleName: "moc_admin",
		MaxRequestSize:  exchange.DefaultMaxGuestArgument,
	}
}

// RegisterWithRuntime exports every operation of registry from the admin
// host module. Operations take and return JSON through the packed i64
// ptr+len format:
//   - the request is read from guest memory at the packed ptr+len
//   - the response is written into memory obtained from the guest's
//     "allocate" export, and its packed ptr+len is returned
//
// Failures are returned to the guest as an ErrorResponse document.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, registry *hostfuncs.HandlerRegistry, logger *zap.Logger, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	builder := runtime.NewHostModuleBuilder(cfg.AdminModuleName)
	for _, name := range registry.Names() {
		funcName := name
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				handleRegistryCall(ctx, mod, stack, registry, funcName, cfg.MaxRequestSize, logger)
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			Export(funcName)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// handleRegistryCall reads the request from guest memory, invokes the
// operation and writes the response back.
func handleRegistryCall(ctx context.Context, mod api.Module, stack []uint64, registry *hostfuncs.HandlerRegistry, name string, maxRequestSize uint32, logger *zap.Logger) {
	ptr, length := unpackPtrLen(stack[0])

	if length > maxRequestSize {
		msg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, maxRequestSize)
		logger.Warn("admin call rejected", zap.String("function", name), zap.String("reason", msg))
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewValidationError(msg), logger)
		return
	}

	request, ok := exchange.ReadBytes(mod.Memory(), ptr, length, maxRequestSize)
	if !ok {
		logger.Warn("admin call rejected", zap.String("function", name), zap.String("reason", "request out of bounds"))
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewValidationError("request out of guest memory bounds"), logger)
		return
	}

	response, err := registry.Invoke(ctx, name, request)
	if err != nil {
		logger.Error("admin call failed", zap.String("function", name), zap.Error(err))
		stack[0] = writeErrorResponse(ctx, mod, hostfuncs.NewInternalError(err.Error()), logger)
		return
	}
	stack[0] = writeResponse(ctx, mod, response, logger)
}

// writeResponse allocates memory in the guest and writes data there. It
// returns packed ptr+len, or 0 on failure.
func writeResponse(ctx context.Context, mod api.Module, data []byte, logger *zap.Logger) uint64 {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		logger.Error("guest module missing 'allocate' export", zap.String("module", mod.Name()))
		return 0
	}

	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		logger.Error("guest allocate failed", zap.Error(err))
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit

	mem := mod.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		logger.Error("response out of guest memory bounds", zap.Uint32("ptr", ptr), zap.Int("len", len(data)))
		return 0
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by guest memory
}

func writeErrorResponse(ctx context.Context, mod api.Module, errResp hostfuncs.ErrorResponse, logger *zap.Logger) uint64 {
	return writeResponse(ctx, mod, errResp.ToJSON(), logger)
}

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}
