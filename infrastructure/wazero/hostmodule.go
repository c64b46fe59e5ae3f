package wazero

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/wireformat"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// args decodes the i32 parameters of one host call. Any failed read marks
// the call as failed.
type args struct {
	mem    api.Memory
	stack  []uint64
	limit  uint32
	failed bool
}

func (a *args) u32(i int) uint32 { return api.DecodeU32(a.stack[i]) }

func (a *args) bytes(i int) []byte {
	b, ok := exchange.ReadBytes(a.mem, a.u32(i), a.u32(i+1), a.limit)
	if !ok {
		a.failed = true
	}
	return b
}

func (a *args) str(i int) string { return string(a.bytes(i)) }

// capability is one function of the host module. call returns the raw
// result, which is ignored for functions without results.
type capability struct {
	call    func(ctx context.Context, g *hostfuncs.API, a *args) uint64
	name    string
	params  []api.ValueType
	results []api.ValueType
}

func (c capability) goFunc(logger *zap.Logger, maxRequest uint32) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		failed := api.EncodeU32(hostfuncs.StatusFailed)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("capability panicked", zap.String("function", c.name), zap.Any("panic", r))
				if len(c.results) > 0 {
					stack[0] = failed
				}
			}
		}()

		g, ok := guestAPI(ctx)
		if !ok {
			logger.Warn("capability called outside an invocation", zap.String("function", c.name))
			if len(c.results) > 0 {
				stack[0] = failed
			}
			return
		}

		limit := g.MaxArgument()
		if maxRequest > 0 && maxRequest < limit {
			limit = maxRequest
		}
		a := &args{mem: mod.Memory(), stack: stack, limit: limit}
		result := c.call(ctx, g, a)
		if len(c.results) == 0 {
			return
		}
		if a.failed {
			stack[0] = failed
			return
		}
		stack[0] = result
	}
}

func ret(v uint32) uint64 { return api.EncodeU32(v) }

func params(n int) []api.ValueType {
	p := make([]api.ValueType, n)
	for i := range p {
		p[i] = i32
	}
	return p
}

// capabilities is the guest ABI. Strings and byte slices are passed as
// (ptr, len) pairs; handles and statuses are i32; failures return the
// sentinel 0xFFFFFFFF.
func capabilities() []capability {
	one := []api.ValueType{i32}
	return []capability{
		// buffers
		{name: "get_input_buffer_id", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.GetInputBufferID())
		}},
		{name: "get_output_buffer_id", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.GetOutputBufferID())
		}},
		{name: "create_buffer", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.CreateBuffer())
		}},
		{name: "write_buffer", params: params(3), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			payload := a.bytes(1)
			if a.failed {
				return 0
			}
			return ret(g.WriteBuffer(a.u32(0), payload))
		}},
		{name: "write_buffer_header", params: params(5), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			name, value := a.str(1), a.str(3)
			if a.failed {
				return 0
			}
			return ret(g.WriteBufferHeader(a.u32(0), name, value))
		}},
		{name: "get_buffer_size", params: params(1), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			return ret(g.GetBufferSize(a.u32(0)))
		}},
		{name: "read_buffer", params: params(3), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			return ret(g.ReadBuffer(a.u32(0), a.mem, a.u32(1), a.u32(2)))
		}},
		{name: "read_buffer_headers", params: params(1), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			return ret(g.ReadBufferHeaders(a.u32(0)))
		}},
		{name: "free_buffer", params: params(1), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			return ret(g.FreeBuffer(a.u32(0)))
		}},

		// persistence
		{name: "persistence_set", params: params(4), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			key, value := a.bytes(0), a.bytes(2)
			if a.failed {
				return 0
			}
			return ret(g.PersistenceSet(key, value))
		}},
		{name: "persistence_get", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			key := a.bytes(0)
			if a.failed {
				return 0
			}
			return ret(g.PersistenceGet(key))
		}},
		{name: "persistence_get_subset", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			prefix := a.bytes(0)
			if a.failed {
				return 0
			}
			return ret(g.PersistenceGetSubset(prefix))
		}},

		// routing
		{name: "plug_function", params: params(10), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			method, path, module, entry, data := a.str(0), a.str(2), a.str(4), a.str(6), a.str(8)
			if a.failed {
				return 0
			}
			return ret(g.PlugFunction(method, path, module, entry, data))
		}},
		{name: "plug_file", params: params(8), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			method, path, contentType, content := a.str(0), a.str(2), a.str(4), a.bytes(6)
			if a.failed {
				return 0
			}
			return ret(g.PlugFile(method, path, contentType, content))
		}},
		{name: "plug_blob", params: params(6), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			method, path, ref := a.str(0), a.str(2), a.str(4)
			if a.failed {
				return 0
			}
			return ret(g.PlugBlob(method, path, ref))
		}},
		{name: "unplug", params: params(4), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			method, path := a.str(0), a.str(2)
			if a.failed {
				return 0
			}
			return ret(g.Unplug(method, path))
		}},
		{name: "plug_filter", params: params(6), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			module, entry, data := a.str(0), a.str(2), a.str(4)
			if a.failed {
				return 0
			}
			return ret(g.PlugFilter(module, entry, data))
		}},
		{name: "unplug_filter", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			id := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.UnplugFilter(id))
		}},

		// blobs
		{name: "register_blob", params: params(6), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			name, contentType, content := a.str(0), a.str(2), a.bytes(4)
			if a.failed {
				return 0
			}
			return ret(g.RegisterBlob(name, contentType, content))
		}},
		{name: "get_blob_id_from_name", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			name := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.GetBlobIDFromName(name))
		}},
		{name: "get_blob_bytes_as_string", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			ref := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.GetBlobBytesAsString(ref))
		}},

		// misc
		{name: "base64_encode", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			input := a.bytes(0)
			if a.failed {
				return 0
			}
			return ret(g.Base64Encode(input))
		}},
		{name: "base64_decode", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			encoded := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.Base64Decode(encoded))
		}},
		{name: "get_time", results: []api.ValueType{i64}, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return api.EncodeI64(g.GetTime())
		}},
		{name: "print_debug", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			text := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.PrintDebug(text))
		}},
		{name: "get_url", params: params(2), results: one, call: func(ctx context.Context, g *hostfuncs.API, a *args) uint64 {
			url := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.GetURL(ctx, url))
		}},
		{name: "call_function", params: params(13), results: one, call: callFunction},
		{name: "verify_jwt", params: params(2), results: one, call: func(_ context.Context, g *hostfuncs.API, a *args) uint64 {
			token := a.str(0)
			if a.failed {
				return 0
			}
			return ret(g.VerifyJWT(token))
		}},
		{name: "get_status", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.GetStatus())
		}},
		{name: "export_database", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.ExportDatabase())
		}},
		{name: "is_trace", results: one, call: func(_ context.Context, g *hostfuncs.API, _ *args) uint64 {
			return ret(g.IsTrace())
		}},
	}
}

// callFunction decodes
//
//	call_function(name, name_len, entry, entry_len, args_ptr, args_count,
//	              mode, mode_len, input, output, file, file_len, posix_args)
//
// where posix_args is a buffer holding a string list, or the sentinel.
func callFunction(ctx context.Context, g *hostfuncs.API, a *args) uint64 {
	module, entry := a.str(0), a.str(2)
	callArgs, ok := exchange.ReadInt32s(a.mem, a.u32(4), a.u32(5), a.limit)
	if !ok {
		a.failed = true
	}
	modeName, fileName := a.str(6), a.str(10)
	if a.failed {
		return 0
	}
	mode, ok := entities.ParseCallMode(modeName)
	if !ok {
		a.failed = true
		return 0
	}

	req := hostfuncs.CallRequest{
		Module:        module,
		EntryPoint:    entry,
		Args:          callArgs,
		Mode:          mode,
		Input:         a.u32(8),
		Output:        a.u32(9),
		POSIXFileName: fileName,
	}
	if h := a.u32(12); h != exchange.Sentinel {
		payload, ok := g.Buffers().Bytes(h)
		if !ok {
			a.failed = true
			return 0
		}
		list, err := wireformat.DecodeStrings(payload)
		if err != nil {
			a.failed = true
			return 0
		}
		req.POSIXArgs = list
	}
	return ret(g.CallFunction(ctx, req))
}

// RegisterHostModule instantiates the capability host module on runtime.
// Every function resolves the invocation's capability table from the call
// context and recovers from panics by returning the sentinel.
func RegisterHostModule(ctx context.Context, runtime wazero.Runtime, logger *zap.Logger, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	for _, c := range capabilities() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(c.goFunc(logger, cfg.MaxRequestSize), c.params, c.results).
			Export(c.name)
	}
	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// guestAPI returns the capability table of the running invocation.
func guestAPI(ctx context.Context) (*hostfuncs.API, bool) {
	return hostfuncs.APIFromContext(ctx)
}
