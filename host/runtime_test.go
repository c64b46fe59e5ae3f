package host

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/dispatch"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/infrastructure/levelstore"
	"github.com/moc-dev/moc-runtime/internal/testutil"
)

func newRuntime(t *testing.T, opts ...Option) (*Runtime, *testutil.NativeEngine) {
	t.Helper()
	engine := testutil.NewNativeEngine()
	engine.Define("watchdog", testutil.WatchdogModule())

	mock := clock.NewMock()
	mock.Set(testutil.FixedTime)

	opts = append([]Option{
		WithoutWasm(),
		WithEngine(testutil.NativeContentType, engine),
		WithClock(mock),
	}, opts...)
	rt, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt, engine
}

func invoke[Resp any](t *testing.T, rt *Runtime, op string, req any) Resp {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	out, err := rt.Admin().Invoke(context.Background(), op, payload)
	require.NoError(t, err)
	if er, isErr := hostfuncs.IsErrorResponse(out); isErr {
		t.Fatalf("%s failed: %s: %s", op, er.Error, er.Message)
	}
	var resp Resp
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func invokeErr(t *testing.T, rt *Runtime, op string, req any, code int) hostfuncs.ErrorResponse {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	out, err := rt.Admin().Invoke(context.Background(), op, payload)
	require.NoError(t, err)
	return testutil.RequireErrorResponse(t, out, code)
}

func TestRuntime_AdminOperations(t *testing.T) {
	rt, _ := newRuntime(t)

	blob := invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{
		Name: "watchdog", ContentType: testutil.NativeContentType, Content: []byte("watchdog"),
	})
	assert.Equal(t, entities.TechIDRef(blob.TechID), blob.Reference)

	ok := invoke[OKResponse](t, rt, OpPlugFunction, PlugFunctionRequest{
		Method: "POST", Path: "/status/:service", Module: "watchdog", EntryPoint: "addStatus",
	})
	assert.True(t, ok.OK)

	resp := rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "POST", Path: "/status/db"})
	require.Equal(t, 200, resp.Status, "err: %v", resp.Err)
	assert.Contains(t, string(resp.Body), "status for 'db' saved for timestamp 1700000000")

	file := invoke[RegisterBlobResponse](t, rt, OpPlugFile, PlugFileRequest{
		Method: "GET", Path: "/index.html", ContentType: "text/html", Content: []byte("<h1>hi</h1>"),
	})
	resp = rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/index.html"})
	require.Equal(t, 200, resp.Status)
	assert.Equal(t, "<h1>hi</h1>", string(resp.Body))

	invoke[OKResponse](t, rt, OpPlugBlob, PlugBlobRequest{Method: "GET", Path: "/copy", Blob: file.Reference})
	resp = rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/copy"})
	assert.Equal(t, 200, resp.Status)

	invoke[OKResponse](t, rt, OpUnplug, UnplugRequest{Method: "GET", Path: "/copy"})
	resp = rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/copy"})
	assert.Equal(t, 404, resp.Status)

	status := invoke[entities.Status](t, rt, OpStatus, StatusRequest{})
	assert.Len(t, status.Plugs, 2)
	require.Len(t, status.BlobNames, 1)
	assert.Equal(t, "watchdog", status.BlobNames[0].Name)
	assert.Equal(t, uint64(4), status.Statistics.Requests)

	export := invoke[ExportResponse](t, rt, OpExport, ExportRequest{Prefix: "/persistence"})
	assert.Contains(t, export.Entries, "/persistence/watchdog-v1/status/services/db/timestamp")
}

func TestRuntime_AdminFilters(t *testing.T) {
	rt, engine := newRuntime(t)
	engine.Define("guard", testutil.NativeModule{Exports: map[string]testutil.GuestFunc{
		"deny": func(_ context.Context, g *testutil.Guest, _ []int32) (int32, error) {
			g.Respond([]byte("denied"))
			return 403, nil
		},
	}})
	invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{Name: "watchdog", ContentType: testutil.NativeContentType, Content: []byte("watchdog")})
	invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{Name: "guard", ContentType: testutil.NativeContentType, Content: []byte("guard")})
	invoke[OKResponse](t, rt, OpPlugFunction, PlugFunctionRequest{Method: "GET", Path: "/status", Module: "watchdog", EntryPoint: "getStatus"})

	filter := invoke[PlugFilterResponse](t, rt, OpPlugFilter, PlugFilterRequest{Module: "guard", EntryPoint: "deny"})
	require.NotEmpty(t, filter.ID)

	resp := rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/status"})
	assert.Equal(t, 403, resp.Status)

	removed := invoke[UnplugFilterResponse](t, rt, OpUnplugFilter, UnplugFilterRequest{ID: filter.ID})
	assert.True(t, removed.Removed)

	resp = rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/status"})
	assert.Equal(t, 200, resp.Status)
}

func TestRuntime_AdminCallFunction(t *testing.T) {
	rt, engine := newRuntime(t)
	engine.Define("echo", testutil.NativeModule{Exports: map[string]testutil.GuestFunc{
		"run": func(_ context.Context, g *testutil.Guest, _ []int32) (int32, error) {
			g.Respond(g.Input(), "x-from", g.InputHeaders()["x-from"])
			return 200, nil
		},
	}})
	invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{Name: "watchdog", ContentType: testutil.NativeContentType, Content: []byte("watchdog")})
	invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{Name: "echo", ContentType: testutil.NativeContentType, Content: []byte("echo")})

	product := invoke[CallFunctionResponse](t, rt, OpCallFunction, CallFunctionRequest{Module: "watchdog", EntryPoint: "multiply", Args: []int32{6, 7}})
	assert.Equal(t, int32(42), product.Status)

	echo := invoke[CallFunctionResponse](t, rt, OpCallFunction, CallFunctionRequest{
		Module: "echo", EntryPoint: "run", Input: []byte("hello"), Headers: map[string]string{"x-from": "admin"},
	})
	assert.Equal(t, int32(200), echo.Status)
	assert.Equal(t, "hello", string(echo.Output))
	assert.Equal(t, "admin", echo.Headers["x-from"])

	invokeErr(t, rt, OpCallFunction, CallFunctionRequest{Module: "absent", EntryPoint: "run"}, 404)
}

func TestRuntime_AdminValidation(t *testing.T) {
	rt, _ := newRuntime(t)

	tests := []struct {
		op  string
		req any
	}{
		{OpRegisterBlob, RegisterBlobRequest{Name: "x"}},
		{OpPlugFunction, PlugFunctionRequest{Method: "GET", Path: "relative", Module: "m", EntryPoint: "e"}},
		{OpPlugFunction, PlugFunctionRequest{Method: "GET", Path: "/x"}},
		{OpPlugBlob, PlugBlobRequest{Method: "GET", Path: "/x"}},
		{OpUnplugFilter, UnplugFilterRequest{}},
		{OpCallFunction, CallFunctionRequest{Module: "m"}},
		{OpCallFunction, CallFunctionRequest{Module: "m", EntryPoint: "e", Mode: "batch"}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			er := invokeErr(t, rt, tt.op, tt.req, 400)
			assert.Equal(t, "VALIDATION_ERROR", er.Error)
		})
	}

	er := invokeErr(t, rt, OpPlugBlob, PlugBlobRequest{Method: "GET", Path: "/x", Blob: "missing"}, 404)
	assert.Equal(t, "NOT_FOUND", er.Error)

	er = invokeErr(t, rt, "reboot", struct{}{}, 404)
	assert.Equal(t, "NOT_FOUND", er.Error)
}

func TestRuntime_Schemas(t *testing.T) {
	rt, _ := newRuntime(t)

	assert.Equal(t, rt.Admin().Names(), rt.Schemas().List())
	raw, ok := rt.Schemas().Schema(OpPlugFunction)
	require.True(t, ok)
	assert.Contains(t, string(raw), "entry_point")
}

func TestRuntime_PersistsAcrossRestart(t *testing.T) {
	kv, err := levelstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	rt, _ := newRuntime(t, WithKVStore(kv))
	invoke[RegisterBlobResponse](t, rt, OpRegisterBlob, RegisterBlobRequest{Name: "watchdog", ContentType: testutil.NativeContentType, Content: []byte("watchdog")})
	invoke[OKResponse](t, rt, OpPlugFunction, PlugFunctionRequest{Method: "GET", Path: "/status", Module: "watchdog", EntryPoint: "getStatus"})
	invoke[PlugFilterResponse](t, rt, OpPlugFilter, PlugFilterRequest{Module: "watchdog", EntryPoint: "multiply"})
	require.NoError(t, rt.Close(context.Background()))

	reopened, _ := newRuntime(t, WithKVStore(kv))
	status, err := reopened.Status()
	require.NoError(t, err)
	assert.Len(t, status.Plugs, 1)
	assert.Len(t, status.Filters, 1)
}

func TestRuntime_DataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	rt, _ := newRuntime(t, WithDataDir(dir))
	invoke[OKResponse](t, rt, OpPlugFunction, PlugFunctionRequest{Method: "GET", Path: "/x", Module: "m", EntryPoint: "e"})
	require.NoError(t, rt.Close(context.Background()))

	_, err := os.Stat(dir)
	assert.NoError(t, err)

	reopened, _ := newRuntime(t, WithDataDir(dir))
	status, err := reopened.Status()
	require.NoError(t, err)
	assert.Len(t, status.Plugs, 1)
}

func TestRuntime_CloseClosesEngines(t *testing.T) {
	rt, engine := newRuntime(t)
	require.NoError(t, rt.Close(context.Background()))
	assert.True(t, engine.Closed())
}

func TestRuntime_Bootstrap(t *testing.T) {
	rt, _ := newRuntime(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watchdog.guest"), []byte("watchdog"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>up</p>"), 0o600))

	b := config.Bootstrap{
		Blobs: []config.BlobSpec{
			{Name: "watchdog", File: filepath.Join(dir, "watchdog.guest"), ContentType: testutil.NativeContentType},
			{Name: "index", File: filepath.Join(dir, "index.html")},
		},
		Routes: []config.RouteSpec{
			{Method: "POST", Path: "/status/:service", Module: "watchdog", EntryPoint: "addStatus"},
			{Method: "GET", Path: "/", Blob: "index"},
		},
		Filters: []config.FilterSpec{{Module: "watchdog", EntryPoint: "multiply"}},
	}
	require.NoError(t, rt.Bootstrap(b))
	require.NoError(t, rt.Bootstrap(b), "bootstrap is repeatable")

	status, err := rt.Status()
	require.NoError(t, err)
	assert.Len(t, status.Plugs, 2)
	assert.Len(t, status.Filters, 1)
	assert.Len(t, status.BlobNames, 2)

	resp := rt.Dispatcher().ServeRequest(context.Background(), &dispatch.Request{Method: "GET", Path: "/"})
	require.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html; charset=utf-8", headerValue(resp, "content-type"))

	err = rt.Bootstrap(config.Bootstrap{Blobs: []config.BlobSpec{{Name: "gone", File: filepath.Join(dir, "absent")}}})
	assert.Error(t, err)
}

func headerValue(resp *dispatch.Response, name string) string {
	for _, p := range resp.Header {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/wasm", DetectContentType("guest.wasm", nil))
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("README", []byte("plain words")))
	assert.Equal(t, "image/png", DetectContentType("logo", []byte("\x89PNG\r\n\x1a\n0000")))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Runtime.InMemory = true
	cfg.Runtime.Trace = true
	cfg.Runtime.MemoryLimitPages = 32

	c := defaultRuntimeConfig()
	for _, opt := range FromConfig(&cfg, nil) {
		opt(&c)
	}
	assert.True(t, c.trace)
	assert.Empty(t, c.dataDir)
	assert.Equal(t, cfg.Runtime.MaxDepth, c.maxDepth)
	assert.Equal(t, cfg.Runtime.Timeout.Std(), c.timeout)
	assert.Len(t, c.wasmOptions, 1)
	assert.NotNil(t, c.http)

	cfg.Runtime.InMemory = false
	c = defaultRuntimeConfig()
	for _, opt := range FromConfig(&cfg, nil) {
		opt(&c)
	}
	assert.Equal(t, "data", c.dataDir)
}

func TestNewKeyring(t *testing.T) {
	keys, err := NewKeyring(config.JWT{Trusted: []config.TrustedKey{
		{Issuer: "https://idp.example", KeyID: "k1", Secret: "a shared secret of some length"},
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Len())

	_, err = NewKeyring(config.JWT{Trusted: []config.TrustedKey{
		{Issuer: "https://idp.example", KeyID: "k2", PublicKey: "not a pem block"},
	}}, nil)
	assert.Error(t, err)
}
