package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/domain/entities"
	"github.com/moc-dev/moc-runtime/host"
	"github.com/moc-dev/moc-runtime/internal/testutil"
	"github.com/moc-dev/moc-runtime/metrics"
)

const testSecret = "test-secret-0123456789"

type testServer struct {
	handler http.Handler
	cfg     *config.Config
	engine  *testutil.NativeEngine
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Admin = config.Admin{Enabled: true, TokenSecret: testSecret}
	if mutate != nil {
		mutate(&cfg)
	}

	engine := testutil.NewNativeEngine()
	engine.Define("watchdog", testutil.WatchdogModule())
	rec := metrics.New()

	rt, err := host.New(context.Background(),
		host.WithoutWasm(),
		host.WithEngine(testutil.NativeContentType, engine),
		host.WithRecorder(rec),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	return &testServer{
		handler: NewHandler(&cfg, Deps{Runtime: rt, Metrics: rec}),
		cfg:     &cfg,
		engine:  engine,
	}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) token(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken(s.cfg.Admin, "tester", time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (s *testServer) admin(t *testing.T, op string, req any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, AdminPrefix+"/"+op, string(body), s.token(t))
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var m message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m.Message
}

func TestServer_AdminRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := IssueToken(config.Admin{TokenSecret: "another-secret-0123456789"}, "x", time.Hour, time.Now())
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", other)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(s.cfg.Admin, "x", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", s.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status entities.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Empty(t, status.Plugs)
}

func TestServer_AdminPlugAndDispatch(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.admin(t, host.OpRegisterBlob, host.RegisterBlobRequest{
		Name: "watchdog", ContentType: testutil.NativeContentType, Content: []byte("watchdog"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.admin(t, host.OpPlugFunction, host.PlugFunctionRequest{
		Method: "POST", Path: "/status", Module: "watchdog", EntryPoint: "postStatus",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/status", `{"name":"db","message":"up"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "status for 'db' saved")
	assert.Equal(t, 1, int(s.engine.Calls()))
}

func TestServer_Unbound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "sorry, unbound resource '/missing', method:GET", decodeMessage(t, rec))

	rec = s.do(t, "PURGE", "/cache", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "sorry, unbound resource '/cache', method:PURGE", decodeMessage(t, rec))
}

func TestServer_AdminErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.admin(t, host.OpPlugFunction, host.PlugFunctionRequest{Method: "GET"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(t, "reboot", struct{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, AdminPrefix+"/status", "{}", s.token(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminSchemas(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, AdminPrefix+"/", "", s.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var list map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Contains(t, list["operations"], host.OpCallFunction)

	rec = s.do(t, http.MethodGet, AdminPrefix+"/"+host.OpPlugFilter+"/schema", "", s.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "entry_point")

	rec = s.do(t, http.MethodGet, AdminPrefix+"/reboot/schema", "", s.token(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminDisabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Admin = config.Admin{} })

	rec := s.do(t, http.MethodPost, AdminPrefix+"/status", "{}", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeMessage(t, rec), "unbound resource")
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/missing", "", "")

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `moc_requests_total{code="404",method="GET",state="REJECTED"} 1`)
	assert.Contains(t, string(body), `moc_http_requests_total{code="404",method="GET"} 1`)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.RateBurst = 2
	})

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/a", "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/a", "", "").Code)
	rec := s.do(t, http.MethodGet, "/a", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too many requests", decodeMessage(t, rec))
}

func TestServer_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 4 })

	rec := s.do(t, http.MethodPost, "/upload", "0123456789", "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = s.do(t, http.MethodPost, AdminPrefix+"/status", "{\"padding\":1}", s.token(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNewHTTPServer(t *testing.T) {
	cfg := config.Defaults().Server
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
}
