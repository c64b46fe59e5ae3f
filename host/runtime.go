package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/blobs"
	"github.com/moc-dev/moc-runtime/dispatch"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/host/registry"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/infrastructure/levelstore"
	"github.com/moc-dev/moc-runtime/infrastructure/wazero"
	"github.com/moc-dev/moc-runtime/persistence"
	"github.com/moc-dev/moc-runtime/routing"
)

// Runtime owns every process-wide component. There are no globals: tests
// create as many runtimes as they need.
type Runtime struct {
	logger *zap.Logger
	kv     ports.KVStore
	ownsKV bool

	svc        *hostfuncs.Services
	dispatcher *dispatch.Dispatcher
	admin      *hostfuncs.HandlerRegistry
	schemas    *registry.Registry
}

// New opens storage, reloads persisted routes and filters, and starts the
// engines.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}

	r := &Runtime{logger: cfg.logger.Named("host"), kv: cfg.kv}
	if r.kv == nil {
		kv, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		r.kv, r.ownsKV = kv, true
	}

	routes := routing.NewTable(r.kv, cfg.logger.Named("routes"))
	filters := routing.NewFilters(r.kv, cfg.logger.Named("filters"))
	if err := routes.Load(); err != nil {
		r.closeStore()
		return nil, fmt.Errorf("load routes: %w", err)
	}
	if err := filters.Load(); err != nil {
		r.closeStore()
		return nil, fmt.Errorf("load filters: %w", err)
	}

	httpClient := cfg.http
	if httpClient == nil {
		httpClient = hostfuncs.NewFetcher(hostfuncs.WithEgressPolicy(hostfuncs.DefaultEgressPolicy()))
	}
	r.svc = &hostfuncs.Services{
		Persistence: persistence.New(r.kv),
		Routes:      routes,
		Filters:     filters,
		Blobs:       blobs.NewRegistry(r.kv, cfg.logger.Named("blobs")),
		KV:          r.kv,
		HTTP:        httpClient,
		Tokens:      cfg.tokens,
		Clock:       cfg.clock,
		Logger:      cfg.logger,
		MaxArgument: cfg.maxArgument,
		Trace:       cfg.trace,
	}

	var err error
	if r.admin, r.schemas, err = r.newAdmin(cfg.middleware); err != nil {
		r.closeStore()
		return nil, fmt.Errorf("admin registry: %w", err)
	}

	dopts := []dispatch.Option{
		dispatch.WithMaxDepth(cfg.maxDepth),
		dispatch.WithMaxOutputSize(cfg.maxOutput),
		dispatch.WithTimeout(cfg.timeout),
	}
	if cfg.recorder != nil {
		dopts = append(dopts, dispatch.WithRecorder(cfg.recorder))
	}
	for ct, e := range cfg.engines {
		dopts = append(dopts, dispatch.WithEngine(ct, e))
	}
	if cfg.wasm {
		wopts := append([]wazero.AdapterOption{
			wazero.WithRegistry(r.admin),
			wazero.WithMaxRequestSize(cfg.maxArgument),
		}, cfg.wasmOptions...)
		engine, err := wazero.NewEngine(ctx, cfg.logger, wopts...)
		if err != nil {
			r.closeStore()
			return nil, fmt.Errorf("start wasm engine: %w", err)
		}
		dopts = append(dopts, dispatch.WithEngine(wazero.ContentType, engine))
	}
	r.dispatcher = dispatch.New(r.svc, dopts...)

	r.logger.Info("runtime started",
		zap.Int("routes", len(routes.List())),
		zap.Int("filters", len(filters.List())),
		zap.Bool("wasm", cfg.wasm),
		zap.Bool("trace", cfg.trace),
	)
	return r, nil
}

func openStore(cfg runtimeConfig) (*levelstore.Store, error) {
	if cfg.dataDir == "" {
		kv, err := levelstore.OpenInMemory()
		if err != nil {
			return nil, fmt.Errorf("open in-memory database: %w", err)
		}
		return kv, nil
	}
	kv, err := levelstore.Open(cfg.dataDir, levelstore.WithSync(cfg.syncWrites))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.dataDir, err)
	}
	return kv, nil
}

func (r *Runtime) closeStore() error {
	if !r.ownsKV {
		return nil
	}
	return r.kv.Close()
}

// Dispatcher serves requests.
func (r *Runtime) Dispatcher() *dispatch.Dispatcher { return r.dispatcher }

// Services are the components shared by every invocation.
func (r *Runtime) Services() *hostfuncs.Services { return r.svc }

// Admin is the registry of administration operations.
func (r *Runtime) Admin() *hostfuncs.HandlerRegistry { return r.admin }

// Schemas holds the JSON Schema of every admin request.
func (r *Runtime) Schemas() *registry.Registry { return r.schemas }

// Status reports routes, blobs, filters and counters.
func (r *Runtime) Status() (entities.Status, error) { return r.dispatcher.Status() }

// Export renders every database entry under prefix.
func (r *Runtime) Export(prefix []byte) ([]byte, error) { return persistence.Export(r.kv, prefix) }

// Close stops the engines and, when the Runtime opened it, the database.
func (r *Runtime) Close(ctx context.Context) error {
	errs := []error{r.dispatcher.Close(ctx)}
	if err := r.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
