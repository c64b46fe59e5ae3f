package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/wireformat"
)

// CallFunction implements hostfuncs.Caller. The callee runs in a child buffer
// store: it sees a copy of the caller's req.Input and its output buffer is
// copied back into req.Output. Either handle may be the sentinel.
func (d *Dispatcher) CallFunction(ctx context.Context, parent *hostfuncs.API, req hostfuncs.CallRequest) (int32, error) {
	caller := parent.Invocation()
	depth := caller.Depth + 1
	if depth > d.maxDepth {
		return 0, domainerrors.Internal("call_function", fmt.Errorf("nesting depth %d exceeded", d.maxDepth))
	}
	if req.Module == "" {
		return 0, domainerrors.NotFound("module", req.Module)
	}

	inv := newInvocation(d.logger, d.svc.Trace)
	inv.logger = inv.logger.With(zap.String("parent", caller.ID))
	if err := inv.advance(entities.StateRouted); err != nil {
		return 0, err
	}

	child := exchange.NewStore(exchange.WithObserver(d.recorder))
	defer child.Close()

	input := child.Create()
	if req.Input != exchange.Sentinel {
		if err := child.CopyInto(input, caller.Buffers, req.Input); err != nil {
			inv.reject()
			return 0, err
		}
	}
	output := child.Create()
	_ = inv.advance(entities.StateBuffersPrepared)
	_ = inv.advance(entities.StateExecuting)

	mode := req.Mode
	if mode == "" {
		mode = entities.ModeDirect
	}
	ex := execution{
		Buffers:    child,
		Module:     req.Module,
		EntryPoint: req.EntryPoint,
		Mode:       mode,
		Args:       req.Args,
		Input:      input,
		Output:     output,
		Depth:      depth,
	}
	if mode == entities.ModePOSIX {
		ex.Argv = posixArgv(req.Module, req.POSIXFileName, req.POSIXArgs)
	}

	status, err := d.execute(ctx, inv, ex)
	if err != nil {
		inv.fail()
		return 0, err
	}

	if req.Output != exchange.Sentinel {
		if err := caller.Buffers.CopyInto(req.Output, child, output); err != nil {
			inv.fail()
			return 0, err
		}
	}
	_ = inv.advance(entities.StateCompleted)
	return status, nil
}

// posixArgv is argv for a POSIX-mode guest: the file name, defaulting to the
// module reference, followed by args.
func posixArgv(module, fileName string, args []string) []string {
	if fileName == "" {
		fileName = module
	}
	return append([]string{fileName}, args...)
}

// Call is a top-level invocation issued outside any HTTP request, as the
// admin API does.
type Call struct {
	Module     string
	EntryPoint string
	Args       []int32
	Mode       entities.CallMode

	// Input and Header become the input buffer.
	Input  []byte
	Header []wireformat.Pair

	POSIXFileName string
	POSIXArgs     []string
}

// CallResult is the guest status and the content of its output buffer.
type CallResult struct {
	Status int32
	Body   []byte
	Header []wireformat.Pair
}

// Call runs c in a fresh buffer store at depth zero.
func (d *Dispatcher) Call(ctx context.Context, c Call) (*CallResult, error) {
	if c.Module == "" {
		return nil, domainerrors.NotFound("module", c.Module)
	}
	mode := c.Mode
	if mode == "" {
		mode = entities.ModeDirect
	}

	inv := newInvocation(d.logger, d.svc.Trace)
	if err := inv.advance(entities.StateRouted); err != nil {
		return nil, err
	}

	store := exchange.NewStore(exchange.WithObserver(d.recorder))
	defer store.Close()

	ex := execution{
		Buffers:    store,
		Module:     c.Module,
		EntryPoint: c.EntryPoint,
		Mode:       mode,
		Args:       c.Args,
		Input:      store.CreateWith(c.Input, c.Header...),
		Output:     store.Create(),
	}
	if mode == entities.ModePOSIX {
		ex.Argv = posixArgv(c.Module, c.POSIXFileName, c.POSIXArgs)
	}
	_ = inv.advance(entities.StateBuffersPrepared)
	_ = inv.advance(entities.StateExecuting)

	status, err := d.execute(ctx, inv, ex)
	if err != nil {
		inv.fail()
		return nil, err
	}
	_ = inv.advance(entities.StateCompleted)

	body, _ := store.Bytes(ex.Output)
	headers, _ := store.Headers(ex.Output)
	return &CallResult{Status: status, Body: body, Header: headers}, nil
}
