package hostfuncs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/blobs"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/domain/ports"
	"github.com/moc-dev/moc-runtime/exchange"
	"github.com/moc-dev/moc-runtime/persistence"
	"github.com/moc-dev/moc-runtime/routing"
)

const (
	// StatusOK is returned by capability calls that succeed without a handle.
	StatusOK uint32 = 0
	// StatusFailed is returned by every failing capability call.
	StatusFailed = exchange.Sentinel
)

// CallRequest is a nested call_function request issued by a guest.
type CallRequest struct {
	Module     string
	EntryPoint string
	Args       []int32
	Mode       entities.CallMode

	// Input and Output are handles in the caller's buffer store.
	Input  exchange.Handle
	Output exchange.Handle

	POSIXFileName string
	POSIXArgs     []string
}

// Caller runs nested function calls on behalf of a guest.
type Caller interface {
	CallFunction(ctx context.Context, parent *API, req CallRequest) (int32, error)
}

// StatusFunc reports the runtime status document.
type StatusFunc func() (entities.Status, error)

// Services are the process-wide components shared by every invocation.
type Services struct {
	Persistence *persistence.Facade
	Routes      *routing.Table
	Filters     *routing.Filters
	Blobs       *blobs.Registry
	KV          ports.KVStore
	HTTP        ports.HTTPClient
	Tokens      TokenVerifier
	Clock       clock.Clock
	Caller      Caller
	Status      StatusFunc
	Logger      *zap.Logger

	// MaxArgument bounds guest-supplied byte arguments.
	MaxArgument uint32
	Trace       bool
}

// Invocation identifies the buffers and module a capability table serves.
type Invocation struct {
	ID      string
	Module  string
	Buffers *exchange.Store
	Input   exchange.Handle
	Output  exchange.Handle
	Depth   int
}

// API is the capability table of one invocation.
type API struct {
	svc    *Services
	inv    Invocation
	logger *zap.Logger
}

// NewAPI binds svc to an invocation.
func NewAPI(svc *Services, inv Invocation) *API {
	logger := svc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		svc: svc,
		inv: inv,
		logger: logger.Named("guest").With(
			zap.String("invocation", inv.ID),
			zap.String("module", inv.Module),
		),
	}
}

// Invocation returns the invocation this table is bound to.
func (a *API) Invocation() Invocation { return a.inv }

// Buffers returns the invocation's buffer store.
func (a *API) Buffers() *exchange.Store { return a.inv.Buffers }

// MaxArgument returns the bound on guest-supplied byte arguments.
func (a *API) MaxArgument() uint32 {
	if a.svc.MaxArgument == 0 {
		return exchange.DefaultMaxGuestArgument
	}
	return a.svc.MaxArgument
}

func (a *API) fail(op string, err error) uint32 {
	a.logger.Debug("capability call failed", zap.String("op", op), zap.Error(err))
	return StatusFailed
}

func (a *API) newBuffer(payload []byte) uint32 {
	return a.inv.Buffers.CreateWith(payload)
}

// GetInputBufferID returns the input buffer handle.
func (a *API) GetInputBufferID() uint32 { return a.inv.Input }

// GetOutputBufferID returns the output buffer handle.
func (a *API) GetOutputBufferID() uint32 { return a.inv.Output }

// CreateBuffer allocates an empty buffer.
func (a *API) CreateBuffer() uint32 { return a.inv.Buffers.Create() }

// WriteBuffer replaces the payload of h.
func (a *API) WriteBuffer(h uint32, payload []byte) uint32 {
	if err := a.inv.Buffers.Write(h, payload); err != nil {
		return a.fail("write_buffer", err)
	}
	return StatusOK
}

// WriteBufferHeader appends a header to h.
func (a *API) WriteBufferHeader(h uint32, name, value string) uint32 {
	if err := a.inv.Buffers.WriteHeader(h, name, value); err != nil {
		return a.fail("write_buffer_header", err)
	}
	return StatusOK
}

// GetBufferSize returns the payload length of h, 0 when unknown.
func (a *API) GetBufferSize(h uint32) uint32 { return a.inv.Buffers.Size(h) }

// ReadBuffer copies the payload of h into guest memory.
func (a *API) ReadBuffer(h uint32, mem exchange.GuestMemory, dest, destLen uint32) uint32 {
	return a.inv.Buffers.Read(h, mem, dest, destLen)
}

// ReadBufferHeaders returns a new buffer with the encoded headers of h.
func (a *API) ReadBufferHeaders(h uint32) uint32 { return a.inv.Buffers.ReadHeaders(h) }

// FreeBuffer releases h.
func (a *API) FreeBuffer(h uint32) uint32 {
	a.inv.Buffers.Free(h)
	return StatusOK
}

// PersistenceSet upserts a guest key.
func (a *API) PersistenceSet(key, value []byte) uint32 {
	if err := a.svc.Persistence.Set(key, value); err != nil {
		return a.fail("persistence_set", err)
	}
	return StatusOK
}

// PersistenceGet returns a buffer holding the value of key.
func (a *API) PersistenceGet(key []byte) uint32 {
	h, err := a.svc.Persistence.GetInto(a.inv.Buffers, key)
	if err != nil {
		return a.fail("persistence_get", err)
	}
	return h
}

// PersistenceGetSubset returns a buffer holding every entry under prefix,
// header-encoded.
func (a *API) PersistenceGetSubset(prefix []byte) uint32 {
	h, err := a.svc.Persistence.GetSubsetInto(a.inv.Buffers, prefix)
	if err != nil {
		return a.fail("persistence_get_subset", err)
	}
	return h
}

// PlugFunction routes method and path to an entry point of module.
func (a *API) PlugFunction(method, path, module, entryPoint, data string) uint32 {
	err := a.svc.Routes.Plug(method, path, entities.RouteHandler{
		Kind:       entities.HandlerFunction,
		Module:     module,
		EntryPoint: entryPoint,
		Data:       data,
	})
	if err != nil {
		return a.fail("plug_function", err)
	}
	return StatusOK
}

// PlugFile registers content as a blob and serves it at method and path.
func (a *API) PlugFile(method, path, contentType string, content []byte) uint32 {
	id, err := a.svc.Blobs.Register(contentType, content)
	if err != nil {
		return a.fail("plug_file", err)
	}
	return a.plugBlob("plug_file", method, path, entities.TechIDRef(id))
}

// PlugBlob serves an already registered blob at method and path.
func (a *API) PlugBlob(method, path, ref string) uint32 {
	return a.plugBlob("plug_blob", method, path, ref)
}

func (a *API) plugBlob(op, method, path, ref string) uint32 {
	err := a.svc.Routes.Plug(method, path, entities.RouteHandler{Kind: entities.HandlerStaticBlob, Blob: ref})
	if err != nil {
		return a.fail(op, err)
	}
	return StatusOK
}

// Unplug removes the route for method and path.
func (a *API) Unplug(method, path string) uint32 {
	if err := a.svc.Routes.Unplug(method, path); err != nil {
		return a.fail("unplug", err)
	}
	return StatusOK
}

// PlugFilter installs a global filter and returns a buffer holding its id.
func (a *API) PlugFilter(module, entryPoint, data string) uint32 {
	id, err := a.svc.Filters.Plug(module, entryPoint, data)
	if err != nil {
		return a.fail("plug_filter", err)
	}
	return a.newBuffer([]byte(id))
}

// UnplugFilter removes a filter. Unknown ids succeed.
func (a *API) UnplugFilter(id string) uint32 {
	if _, err := a.svc.Filters.Unplug(id); err != nil {
		return a.fail("unplug_filter", err)
	}
	return StatusOK
}

// RegisterBlob stores a named blob and returns a buffer holding its
// technical id.
func (a *API) RegisterBlob(name, contentType string, content []byte) uint32 {
	id, err := a.svc.Blobs.RegisterWithName(name, contentType, content)
	if err != nil {
		return a.fail("register_blob", err)
	}
	return a.newBuffer([]byte(id))
}

// GetBlobIDFromName returns a buffer holding the technical id of name.
func (a *API) GetBlobIDFromName(name string) uint32 {
	id, err := a.svc.Blobs.TechIDFromName(name)
	if err != nil {
		return a.fail("get_blob_id_from_name", err)
	}
	return a.newBuffer([]byte(id))
}

// GetBlobBytesAsString returns a buffer holding the content of a blob
// reference, with its content type as a header.
func (a *API) GetBlobBytesAsString(ref string) uint32 {
	blob, err := a.svc.Blobs.Get(ref)
	if err != nil {
		return a.fail("get_blob_bytes_as_string", err)
	}
	h := a.newBuffer(blob.Bytes)
	_ = a.inv.Buffers.WriteHeader(h, "content-type", blob.ContentType)
	return h
}

// Base64Encode returns a buffer holding the standard base64 of input.
func (a *API) Base64Encode(input []byte) uint32 {
	return a.newBuffer([]byte(base64.StdEncoding.EncodeToString(input)))
}

// Base64Decode returns a buffer holding the decoded bytes, or StatusFailed
// for malformed input.
func (a *API) Base64Decode(encoded string) uint32 {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return a.fail("base64_decode", err)
	}
	return a.newBuffer(b)
}

// GetTime returns the current time in milliseconds since the epoch.
func (a *API) GetTime() int64 {
	return a.svc.Clock.Now().UnixMilli()
}

// PrintDebug logs text on behalf of the guest.
func (a *API) PrintDebug(text string) uint32 {
	a.logger.Debug(strings.TrimRight(text, "\n"))
	return StatusOK
}

// GetURL fetches url and returns a buffer with the response body. Response
// headers are copied lower-cased, and the status code is reported as
// x-moc-status.
func (a *API) GetURL(ctx context.Context, url string) uint32 {
	if a.svc.HTTP == nil {
		return a.fail("get_url", errNoHTTPClient)
	}
	resp, err := a.svc.HTTP.Get(ctx, url)
	if err != nil {
		return a.fail("get_url", err)
	}
	h := a.newBuffer(resp.Body)
	for name, values := range resp.Headers {
		for _, v := range values {
			_ = a.inv.Buffers.WriteHeader(h, strings.ToLower(name), v)
		}
	}
	_ = a.inv.Buffers.WriteHeader(h, "x-moc-status", strconv.Itoa(resp.StatusCode))
	return h
}

// CallFunction runs another module synchronously. The callee sees a copy of
// req.Input and its output replaces req.Output. It returns the callee status.
// A negative status would alias the sentinel once widened to uint32, so it
// is reported as a failed call.
func (a *API) CallFunction(ctx context.Context, req CallRequest) uint32 {
	if a.svc.Caller == nil {
		return a.fail("call_function", errNoCaller)
	}
	status, err := a.svc.Caller.CallFunction(ctx, a, req)
	if err != nil {
		return a.fail("call_function", err)
	}
	if status < 0 {
		return a.fail("call_function", fmt.Errorf("%s returned negative status %d", req.Module, status))
	}
	return uint32(status)
}

// VerifyJWT checks token against the trusted keys and returns a buffer with
// its JSON payload, or StatusFailed.
func (a *API) VerifyJWT(token string) uint32 {
	if a.svc.Tokens == nil {
		return a.fail("verify_jwt", errNoVerifier)
	}
	payload, err := a.svc.Tokens.VerifyToken(token)
	if err != nil {
		return a.fail("verify_jwt", err)
	}
	h := a.newBuffer(payload)
	_ = a.inv.Buffers.WriteHeader(h, "content-type", "application/json")
	return h
}

// GetStatus returns a buffer holding the JSON status document.
func (a *API) GetStatus() uint32 {
	if a.svc.Status == nil {
		return a.fail("get_status", errNoStatus)
	}
	st, err := a.svc.Status()
	if err != nil {
		return a.fail("get_status", err)
	}
	b, err := json.Marshal(st)
	if err != nil {
		return a.fail("get_status", err)
	}
	h := a.newBuffer(b)
	_ = a.inv.Buffers.WriteHeader(h, "content-type", "application/json")
	return h
}

// ExportDatabase returns a buffer holding the JSON export of the whole store.
func (a *API) ExportDatabase() uint32 {
	if a.svc.KV == nil {
		return a.fail("export_database", errNoStore)
	}
	b, err := persistence.Export(a.svc.KV, nil)
	if err != nil {
		return a.fail("export_database", err)
	}
	return a.newBuffer(b)
}

// IsTrace returns 1 when verbose tracing is enabled.
func (a *API) IsTrace() uint32 {
	if a.svc.Trace {
		return 1
	}
	return 0
}
