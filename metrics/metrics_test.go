package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/domain/entities"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_Dispatch(t *testing.T) {
	r := New()

	r.BufferCreated()
	r.BufferCreated()
	r.BufferFreed()
	r.RequestCompleted("GET", 200, entities.StateCompleted, 3*time.Millisecond)
	r.RequestCompleted("GET", 500, entities.StateRejected, time.Millisecond)
	r.InvocationCompleted("watchdog", "", false, time.Millisecond)
	r.InvocationCompleted("cat", entities.ModePOSIX, true, time.Millisecond)

	out := scrape(t, r)
	assert.Contains(t, out, "moc_buffers_created_total 2")
	assert.Contains(t, out, "moc_buffers_live 1")
	assert.Contains(t, out, `moc_requests_total{code="200",method="GET",state="COMPLETED"} 1`)
	assert.Contains(t, out, `moc_requests_total{code="500",method="GET",state="REJECTED"} 1`)
	assert.Contains(t, out, `moc_invocations_total{mode="direct",module="watchdog",result="ok"} 1`)
	assert.Contains(t, out, `moc_invocations_total{mode="posix",module="cat",result="error"} 1`)
}

func TestRecorder_Collect(t *testing.T) {
	r := New()
	h := r.Collect("/metrics")(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/missing" {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/a", "/missing", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t, r)
	assert.Contains(t, out, `moc_http_requests_total{code="200",method="GET"} 1`)
	assert.Contains(t, out, `moc_http_requests_total{code="404",method="GET"} 1`)
	assert.Contains(t, out, "moc_http_response_time_seconds_count 2")
}
