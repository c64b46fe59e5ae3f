package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/moc-dev/moc-runtime/dispatch"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/host/registry"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/wireformat"
)

// Admin operation names.
const (
	OpRegisterBlob = "register_blob"
	OpPlugFunction = "plug_function"
	OpPlugFile     = "plug_file"
	OpPlugBlob     = "plug_blob"
	OpUnplug       = "unplug"
	OpPlugFilter   = "plug_filter"
	OpUnplugFilter = "unplug_filter"
	OpCallFunction = "call_function"
	OpStatus       = "status"
	OpExport       = "export"
)

var validate = validator.New()

// RegisterBlobRequest stores Content, under Name when given.
type RegisterBlobRequest struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type" validate:"required"`
	Content     []byte `json:"content" validate:"required"`
}

func (r *RegisterBlobRequest) Validate() error { return validate.Struct(r) }

// RegisterBlobResponse carries the technical id and a reference usable in
// routes.
type RegisterBlobResponse struct {
	TechID    string `json:"tech_id"`
	Reference string `json:"reference"`
}

// PlugFunctionRequest routes Method and Path to an entry point.
type PlugFunctionRequest struct {
	Method     string   `json:"method" validate:"required"`
	Path       string   `json:"path" validate:"required,startswith=/"`
	Module     string   `json:"module" validate:"required"`
	EntryPoint string   `json:"entry_point" validate:"required"`
	Data       string   `json:"data,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (r *PlugFunctionRequest) Validate() error { return validate.Struct(r) }

// PlugFileRequest registers Content and serves it at Method and Path.
type PlugFileRequest struct {
	Method      string `json:"method" validate:"required"`
	Path        string `json:"path" validate:"required,startswith=/"`
	ContentType string `json:"content_type" validate:"required"`
	Content     []byte `json:"content"`
}

func (r *PlugFileRequest) Validate() error { return validate.Struct(r) }

// PlugBlobRequest serves a registered blob at Method and Path.
type PlugBlobRequest struct {
	Method string `json:"method" validate:"required"`
	Path   string `json:"path" validate:"required,startswith=/"`
	Blob   string `json:"blob" validate:"required"`
}

func (r *PlugBlobRequest) Validate() error { return validate.Struct(r) }

// UnplugRequest removes a route.
type UnplugRequest struct {
	Method string `json:"method" validate:"required"`
	Path   string `json:"path" validate:"required,startswith=/"`
}

func (r *UnplugRequest) Validate() error { return validate.Struct(r) }

// PlugFilterRequest installs a filter.
type PlugFilterRequest struct {
	Module     string `json:"module" validate:"required"`
	EntryPoint string `json:"entry_point" validate:"required"`
	Data       string `json:"data,omitempty"`
}

func (r *PlugFilterRequest) Validate() error { return validate.Struct(r) }

// PlugFilterResponse carries the filter id.
type PlugFilterResponse struct {
	ID string `json:"id"`
}

// UnplugFilterRequest removes a filter.
type UnplugFilterRequest struct {
	ID string `json:"id" validate:"required"`
}

func (r *UnplugFilterRequest) Validate() error { return validate.Struct(r) }

// UnplugFilterResponse reports whether a filter was removed.
type UnplugFilterResponse struct {
	Removed bool `json:"removed"`
}

// CallFunctionRequest runs a module outside any HTTP request.
type CallFunctionRequest struct {
	Module     string            `json:"module" validate:"required"`
	EntryPoint string            `json:"entry_point,omitempty" validate:"required_unless=Mode posix"`
	Args       []int32           `json:"args,omitempty"`
	Mode       string            `json:"mode,omitempty" validate:"omitempty,oneof=direct posix"`
	Input      []byte            `json:"input,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	FileName   string            `json:"file_name,omitempty"`
	POSIXArgs  []string          `json:"posix_args,omitempty"`
}

func (r *CallFunctionRequest) Validate() error { return validate.Struct(r) }

// CallFunctionResponse is the guest status and output buffer.
type CallFunctionResponse struct {
	Status  int32             `json:"status"`
	Output  []byte            `json:"output"`
	Headers map[string]string `json:"headers,omitempty"`
}

// StatusRequest takes no arguments.
type StatusRequest struct{}

// ExportRequest selects the database keys to export.
type ExportRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// ExportResponse maps keys to base64 values.
type ExportResponse struct {
	Entries map[string]string `json:"entries"`
}

// OKResponse acknowledges operations without a result.
type OKResponse struct {
	OK bool `json:"ok"`
}

var adminSchemas = map[string]any{
	OpRegisterBlob: &RegisterBlobRequest{},
	OpPlugFunction: &PlugFunctionRequest{},
	OpPlugFile:     &PlugFileRequest{},
	OpPlugBlob:     &PlugBlobRequest{},
	OpUnplug:       &UnplugRequest{},
	OpPlugFilter:   &PlugFilterRequest{},
	OpUnplugFilter: &UnplugFilterRequest{},
	OpCallFunction: &CallFunctionRequest{},
	OpStatus:       &StatusRequest{},
	OpExport:       &ExportRequest{},
}

// newAdmin builds the operation registry and the schema of each request.
func (r *Runtime) newAdmin(mw []hostfuncs.Middleware) (*hostfuncs.HandlerRegistry, *registry.Registry, error) {
	chain := append([]hostfuncs.Middleware{
		hostfuncs.PanicRecoveryMiddleware(),
		hostfuncs.LoggingMiddleware(r.logger.Named("admin")),
	}, mw...)

	reg, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(chain...),
		hostfuncs.WithHandlerE(OpRegisterBlob, r.registerBlob),
		hostfuncs.WithHandlerE(OpPlugFunction, r.plugFunction),
		hostfuncs.WithHandlerE(OpPlugFile, r.plugFile),
		hostfuncs.WithHandlerE(OpPlugBlob, r.plugBlob),
		hostfuncs.WithHandlerE(OpUnplug, r.unplug),
		hostfuncs.WithHandlerE(OpPlugFilter, r.plugFilter),
		hostfuncs.WithHandlerE(OpUnplugFilter, r.unplugFilter),
		hostfuncs.WithHandlerE(OpCallFunction, r.callFunction),
		hostfuncs.WithHandlerE(OpStatus, r.status),
		hostfuncs.WithHandlerE(OpExport, r.export),
	)
	if err != nil {
		return nil, nil, err
	}

	schemas := registry.NewRegistry()
	for op, model := range adminSchemas {
		if err := schemas.Register(op, model); err != nil {
			return nil, nil, err
		}
	}
	return reg, schemas, nil
}

func (r *Runtime) registerBlob(_ context.Context, req RegisterBlobRequest) (RegisterBlobResponse, error) {
	var (
		id  string
		err error
	)
	if req.Name != "" {
		id, err = r.svc.Blobs.RegisterWithName(req.Name, req.ContentType, req.Content)
	} else {
		id, err = r.svc.Blobs.Register(req.ContentType, req.Content)
	}
	if err != nil {
		return RegisterBlobResponse{}, err
	}
	return RegisterBlobResponse{TechID: id, Reference: entities.TechIDRef(id)}, nil
}

func (r *Runtime) plugFunction(_ context.Context, req PlugFunctionRequest) (OKResponse, error) {
	err := r.svc.Routes.Plug(req.Method, req.Path, entities.RouteHandler{
		Kind:       entities.HandlerFunction,
		Module:     req.Module,
		EntryPoint: req.EntryPoint,
		Data:       req.Data,
		Tags:       req.Tags,
	})
	return OKResponse{OK: err == nil}, err
}

func (r *Runtime) plugFile(_ context.Context, req PlugFileRequest) (RegisterBlobResponse, error) {
	id, err := r.svc.Blobs.Register(req.ContentType, req.Content)
	if err != nil {
		return RegisterBlobResponse{}, err
	}
	ref := entities.TechIDRef(id)
	if err := r.svc.Routes.Plug(req.Method, req.Path, entities.RouteHandler{Kind: entities.HandlerStaticBlob, Blob: ref}); err != nil {
		return RegisterBlobResponse{}, err
	}
	return RegisterBlobResponse{TechID: id, Reference: ref}, nil
}

func (r *Runtime) plugBlob(_ context.Context, req PlugBlobRequest) (OKResponse, error) {
	if _, err := r.svc.Blobs.Resolve(req.Blob); err != nil {
		return OKResponse{}, err
	}
	err := r.svc.Routes.Plug(req.Method, req.Path, entities.RouteHandler{Kind: entities.HandlerStaticBlob, Blob: req.Blob})
	return OKResponse{OK: err == nil}, err
}

func (r *Runtime) unplug(_ context.Context, req UnplugRequest) (OKResponse, error) {
	err := r.svc.Routes.Unplug(req.Method, req.Path)
	return OKResponse{OK: err == nil}, err
}

func (r *Runtime) plugFilter(_ context.Context, req PlugFilterRequest) (PlugFilterResponse, error) {
	id, err := r.svc.Filters.Plug(req.Module, req.EntryPoint, req.Data)
	return PlugFilterResponse{ID: id}, err
}

func (r *Runtime) unplugFilter(_ context.Context, req UnplugFilterRequest) (UnplugFilterResponse, error) {
	removed, err := r.svc.Filters.Unplug(req.ID)
	return UnplugFilterResponse{Removed: removed}, err
}

func (r *Runtime) callFunction(ctx context.Context, req CallFunctionRequest) (CallFunctionResponse, error) {
	mode, ok := entities.ParseCallMode(req.Mode)
	if !ok {
		return CallFunctionResponse{}, fmt.Errorf("unknown call mode %q", req.Mode)
	}

	names := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	header := make([]wireformat.Pair, 0, len(names))
	for _, k := range names {
		header = append(header, wireformat.Pair{Name: k, Value: req.Headers[k]})
	}

	res, err := r.dispatcher.Call(ctx, dispatch.Call{
		Module:        req.Module,
		EntryPoint:    req.EntryPoint,
		Args:          req.Args,
		Mode:          mode,
		Input:         req.Input,
		Header:        header,
		POSIXFileName: req.FileName,
		POSIXArgs:     req.POSIXArgs,
	})
	if err != nil {
		return CallFunctionResponse{}, err
	}

	resp := CallFunctionResponse{Status: res.Status, Output: res.Body}
	if len(res.Header) > 0 {
		resp.Headers = make(map[string]string, len(res.Header))
		for _, p := range res.Header {
			resp.Headers[p.Name] = p.Value
		}
	}
	return resp, nil
}

func (r *Runtime) status(context.Context, StatusRequest) (entities.Status, error) {
	return r.Status()
}

func (r *Runtime) export(_ context.Context, req ExportRequest) (ExportResponse, error) {
	data, err := r.Export([]byte(req.Prefix))
	if err != nil {
		return ExportResponse{}, err
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return ExportResponse{}, fmt.Errorf("decode export: %w", err)
	}
	return ExportResponse{Entries: entries}, nil
}
