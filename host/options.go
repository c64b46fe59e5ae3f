package host

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/dispatch"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/infrastructure/wazero"
)

// Option configures a Runtime.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	logger     *zap.Logger
	clock      clock.Clock
	kv         ports.KVStore
	dataDir    string
	syncWrites bool
	http       ports.HTTPClient
	tokens     hostfuncs.TokenVerifier
	recorder   dispatch.Recorder

	trace       bool
	maxArgument uint32
	maxDepth    int
	maxOutput   int
	timeout     time.Duration

	wasm        bool
	wasmOptions []wazero.AdapterOption
	engines     map[string]ports.Engine
	middleware  []hostfuncs.Middleware
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		maxDepth:    dispatch.DefaultMaxDepth,
		maxOutput:   hostfuncs.DefaultMaxOutputSize,
		maxArgument: hostfuncs.DefaultMaxRequestSize,
		wasm:        true,
		engines:     make(map[string]ports.Engine),
	}
}

// WithLogger sets the root logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *runtimeConfig) {
		c.clock = clk
	}
}

// WithKVStore uses kv instead of opening a database. The caller keeps
// ownership; Close does not close it.
func WithKVStore(kv ports.KVStore) Option {
	return func(c *runtimeConfig) {
		c.kv = kv
	}
}

// WithDataDir opens the database in dir. Without it, and without
// WithKVStore, the database lives in memory.
func WithDataDir(dir string) Option {
	return func(c *runtimeConfig) {
		c.dataDir = dir
	}
}

// WithSyncWrites fsyncs every database write.
func WithSyncWrites(sync bool) Option {
	return func(c *runtimeConfig) {
		c.syncWrites = sync
	}
}

// WithHTTPClient sets the client behind get_url.
func WithHTTPClient(client ports.HTTPClient) Option {
	return func(c *runtimeConfig) {
		c.http = client
	}
}

// WithRecorder reports dispatch events, typically to metrics.
func WithRecorder(r dispatch.Recorder) Option {
	return func(c *runtimeConfig) {
		c.recorder = r
	}
}

// WithTrace enables verbose dispatch logging and is_trace.
func WithTrace(trace bool) Option {
	return func(c *runtimeConfig) {
		c.trace = trace
	}
}

// WithTokenVerifier sets the verifier behind verify_jwt.
func WithTokenVerifier(v hostfuncs.TokenVerifier) Option {
	return func(c *runtimeConfig) {
		c.tokens = v
	}
}

// WithMaxArgument bounds byte arguments read from guests.
func WithMaxArgument(limit uint32) Option {
	return func(c *runtimeConfig) {
		if limit > 0 {
			c.maxArgument = limit
		}
	}
}

// WithMaxDepth bounds nested calls.
func WithMaxDepth(depth int) Option {
	return func(c *runtimeConfig) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithMaxOutputSize caps the stdout of POSIX-mode guests.
func WithMaxOutputSize(limit int) Option {
	return func(c *runtimeConfig) {
		if limit > 0 {
			c.maxOutput = limit
		}
	}
}

// WithTimeout bounds every guest call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *runtimeConfig) {
		c.timeout = timeout
	}
}

// WithWasmOptions configures the WebAssembly engine.
func WithWasmOptions(opts ...wazero.AdapterOption) Option {
	return func(c *runtimeConfig) {
		c.wasmOptions = append(c.wasmOptions, opts...)
	}
}

// WithoutWasm skips the WebAssembly engine; only engines added with
// WithEngine are available.
func WithoutWasm() Option {
	return func(c *runtimeConfig) {
		c.wasm = false
	}
}

// WithEngine serves blobs of contentType with engine. The Runtime closes it.
func WithEngine(contentType string, engine ports.Engine) Option {
	return func(c *runtimeConfig) {
		c.engines[contentType] = engine
	}
}

// WithAdminMiddleware wraps every admin operation.
func WithAdminMiddleware(mw ...hostfuncs.Middleware) Option {
	return func(c *runtimeConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}
