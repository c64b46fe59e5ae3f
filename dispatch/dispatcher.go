package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/routing"
	"github.com/moc-dev/moc-runtime/wireformat"
)

const (
	// DefaultMaxDepth bounds nested call_function chains.
	DefaultMaxDepth = 8
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEngine serves modules whose blob content type is contentType.
func WithEngine(contentType string, engine ports.Engine) Option {
	return func(d *Dispatcher) {
		d.engines[mediaType(contentType)] = engine
	}
}

// WithMaxDepth bounds nested calls.
func WithMaxDepth(depth int) Option {
	return func(d *Dispatcher) {
		d.maxDepth = depth
	}
}

// WithTimeout bounds every guest call. Zero disables the limit.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithMaxOutputSize caps what POSIX-mode guests may write to stdout.
func WithMaxOutputSize(limit int) Option {
	return func(d *Dispatcher) {
		d.maxOutput = limit
	}
}

// WithRecorder reports dispatch and buffer events to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// Dispatcher serves requests and nested calls. It is safe for concurrent
// use; each invocation gets its own buffer store.
type Dispatcher struct {
	svc      *hostfuncs.Services
	engines  map[string]ports.Engine
	recorder Recorder
	logger   *zap.Logger
	clock    clock.Clock

	maxDepth  int
	maxOutput int
	timeout   time.Duration

	startedAt      time.Time
	requests       atomic.Uint64
	invocations    atomic.Uint64
	rejected       atomic.Uint64
	internalErrors atomic.Uint64

	closeOnce sync.Once
}

// New returns a Dispatcher over svc and installs it as svc.Caller. When
// svc.Status is unset it is pointed at Dispatcher.Status.
func New(svc *hostfuncs.Services, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		svc:       svc,
		engines:   make(map[string]ports.Engine),
		recorder:  nopRecorder{},
		maxDepth:  DefaultMaxDepth,
		maxOutput: hostfuncs.DefaultMaxOutputSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	if svc.Clock == nil {
		svc.Clock = clock.New()
	}
	d.logger = svc.Logger.Named("dispatch")
	d.clock = svc.Clock
	d.startedAt = d.clock.Now()

	svc.Caller = d
	if svc.Status == nil {
		svc.Status = d.Status
	}
	return d
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// ServeRequest runs the state machine for one inbound request. It never
// fails; errors are reported through the response status and Err.
func (d *Dispatcher) ServeRequest(ctx context.Context, req *Request) *Response {
	start := d.clock.Now()
	d.requests.Add(1)

	inv := newInvocation(d.logger, d.svc.Trace)
	if inv.trace {
		inv.logger.Info("request", zap.String("method", req.Method), zap.String("path", req.Path))
	}

	resp := d.serve(ctx, inv, req)
	resp.State = inv.state
	if inv.state == entities.StateRejected {
		d.rejected.Add(1)
	}
	if resp.Status >= http.StatusInternalServerError {
		inv.logger.Error("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("status", resp.Status),
			zap.Error(resp.Err),
		)
	}

	d.recorder.RequestCompleted(req.Method, resp.Status, resp.State, d.clock.Since(start))
	return resp
}

func (d *Dispatcher) serve(ctx context.Context, inv *invocation, req *Request) *Response {
	match, ok := d.svc.Routes.Lookup(req.Method, req.Path)
	if !ok {
		inv.reject()
		return rejection(http.StatusNotFound,
			domainerrors.NotFound("route", req.Method+" "+req.Path),
			fmt.Sprintf("sorry, unbound resource '%s', method:%s", req.Path, req.Method))
	}
	if err := inv.advance(entities.StateRouted); err != nil {
		inv.reject()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}

	switch match.Route.Handler.Kind {
	case entities.HandlerStaticBlob:
		return d.serveBlob(inv, req, match.Route.Handler)
	case entities.HandlerFunction:
		return d.serveFunction(ctx, inv, req, match)
	}

	inv.reject()
	return rejection(http.StatusNotFound, domainerrors.NotFound("handler", string(match.Route.Handler.Kind)), "sorry, nothing found")
}

func (d *Dispatcher) serveBlob(inv *invocation, req *Request, h entities.RouteHandler) *Response {
	if !strings.EqualFold(req.Method, http.MethodGet) {
		inv.reject()
		return rejection(http.StatusNotFound, domainerrors.NotFound("route", req.Method+" "+req.Path), "sorry, nothing found")
	}

	blob, err := d.svc.Blobs.Get(h.Blob)
	if err != nil {
		inv.reject()
		return rejection(domainerrors.StatusCode(err), err, fmt.Sprintf("sorry, file '%s' not found", h.Blob))
	}

	contentType := blob.ContentType
	if strings.HasPrefix(contentType, "text/") && !strings.Contains(contentType, "charset") {
		contentType += "; charset=utf-8"
	}
	if err := inv.advance(entities.StateCompleted); err != nil {
		inv.reject()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}
	return &Response{
		Status: http.StatusOK,
		Header: []wireformat.Pair{
			{Name: "content-type", Value: contentType},
			{Name: "etag", Value: `"` + blob.TechID + `"`},
		},
		Body: blob.Bytes,
	}
}

func (d *Dispatcher) serveFunction(ctx context.Context, inv *invocation, req *Request, match routing.Match) *Response {
	h := match.Route.Handler

	store := exchange.NewStore(exchange.WithObserver(d.recorder))
	defer store.Close()

	input := store.CreateWith(req.Body, req.headers(match.Params, h.Data)...)
	output := store.Create()
	if err := inv.advance(entities.StateBuffersPrepared); err != nil {
		inv.fail()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}
	if err := inv.advance(entities.StateExecuting); err != nil {
		inv.fail()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}

	base := execution{
		Mode:    entities.ModeDirect,
		Buffers: store,
		Input:   input,
		Output:  output,
	}

	for _, f := range d.filters() {
		ex := base
		ex.Module, ex.EntryPoint = f.Module, f.EntryPoint
		status, err := d.execute(ctx, inv, ex)
		if err != nil {
			inv.fail()
			return rejection(http.StatusInternalServerError, err,
				fmt.Sprintf("error while executing the filter: '%v'", err))
		}
		if status != 0 {
			if inv.trace {
				inv.logger.Info("filter short-circuited request", zap.String("filter", f.ID), zap.Int32("status", status))
			}
			return d.complete(inv, store, output, status)
		}
	}

	ex := base
	ex.Module, ex.EntryPoint = h.Module, h.EntryPoint
	status, err := d.execute(ctx, inv, ex)
	if err != nil {
		inv.fail()
		return rejection(http.StatusInternalServerError, err,
			fmt.Sprintf("error while executing the function: '%v'", err))
	}
	return d.complete(inv, store, output, status)
}

func (d *Dispatcher) filters() []entities.Filter {
	if d.svc.Filters == nil {
		return nil
	}
	return d.svc.Filters.List()
}

// complete turns the guest status and output buffer into a response.
func (d *Dispatcher) complete(inv *invocation, store *exchange.Store, output exchange.Handle, status int32) *Response {
	if status < 100 || status > 599 {
		err := domainerrors.Internal("dispatch", fmt.Errorf("guest returned invalid status %d", status))
		d.internalErrors.Add(1)
		inv.fail()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}
	if err := inv.advance(entities.StateCompleted); err != nil {
		inv.fail()
		return rejection(http.StatusInternalServerError, err, err.Error())
	}

	body, _ := store.Bytes(output)
	headers, _ := store.Headers(output)
	return &Response{Status: int(status), Header: headers, Body: body}
}

// execution is one guest entry against a buffer store.
type execution struct {
	Buffers    *exchange.Store
	Module     string
	EntryPoint string
	Mode       entities.CallMode
	Args       []int32
	Argv       []string
	Input      exchange.Handle
	Output     exchange.Handle
	Depth      int
}

func (d *Dispatcher) engineFor(contentType string) (ports.Engine, bool) {
	e, ok := d.engines[mediaType(contentType)]
	return e, ok
}

// execute resolves the module, binds a capability table and runs the guest.
func (d *Dispatcher) execute(ctx context.Context, inv *invocation, ex execution) (int32, error) {
	blob, err := d.svc.Blobs.Get(ex.Module)
	if err != nil {
		return 0, err
	}
	engine, ok := d.engineFor(blob.ContentType)
	if !ok {
		return 0, domainerrors.NotFound("engine", blob.ContentType)
	}

	api := hostfuncs.NewAPI(d.svc, hostfuncs.Invocation{
		ID:      inv.id,
		Module:  ex.Module,
		Buffers: ex.Buffers,
		Input:   ex.Input,
		Output:  ex.Output,
		Depth:   ex.Depth,
	})

	call := ports.ModuleCall{
		TechID:     blob.TechID,
		Name:       ex.Module,
		Code:       blob.Bytes,
		Mode:       ex.Mode,
		EntryPoint: ex.EntryPoint,
		Args:       ex.Args,
	}
	var stdout *hostfuncs.BoundedBuffer
	if ex.Mode == entities.ModePOSIX {
		payload, _ := ex.Buffers.Bytes(ex.Input)
		stdout = hostfuncs.NewBoundedBuffer(d.maxOutput)
		call.EntryPoint = "_start"
		call.Argv = ex.Argv
		call.Stdin = bytes.NewReader(payload)
		call.Stdout = stdout
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ctx = hostfuncs.WithAPI(ctx, api)

	if inv.trace {
		inv.logger.Info("executing",
			zap.String("module", ex.Module),
			zap.String("entry_point", call.EntryPoint),
			zap.String("mode", string(ex.Mode)),
			zap.Int("depth", ex.Depth),
		)
	}

	start := d.clock.Now()
	status, err := d.run(ctx, engine, call)
	d.invocations.Add(1)
	d.recorder.InvocationCompleted(ex.Module, ex.Mode, err != nil, d.clock.Since(start))
	if err != nil {
		d.internalErrors.Add(1)
		return 0, domainerrors.Internal("execute "+ex.Module, err)
	}

	if stdout != nil {
		if stdout.Truncated() {
			inv.logger.Warn("guest stdout truncated",
				zap.String("module", ex.Module),
				zap.Int("limit", d.maxOutput),
				zap.Int64("dropped_bytes", stdout.Dropped),
			)
		}
		if err := ex.Buffers.Write(ex.Output, stdout.Bytes()); err != nil {
			return 0, err
		}
	}
	return status, nil
}

// run contains guest traps and engine panics.
func (d *Dispatcher) run(ctx context.Context, engine ports.Engine, call ports.ModuleCall) (status int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guest panicked: %v", r)
		}
	}()
	status, err = engine.Execute(ctx, call)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("guest exceeded its time limit: %w", err)
	}
	return status, err
}

// Close closes every engine once.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	d.closeOnce.Do(func() {
		closed := make(map[ports.Engine]bool, len(d.engines))
		for ct, e := range d.engines {
			if closed[e] {
				continue
			}
			closed[e] = true
			if err := e.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close engine %s: %w", ct, err))
			}
		}
	})
	return errors.Join(errs...)
}
