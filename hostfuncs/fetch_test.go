package hostfuncs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/domain/ports"
)

func TestFetcher_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	resp, err := NewFetcher().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "payload", string(resp.Body))
	assert.Equal(t, []string{"yes"}, resp.Headers["X-Upstream"])
	assert.False(t, resp.BodyTruncated)
}

func TestFetcher_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	resp, err := NewFetcher(WithHTTPMaxBodySize(10)).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 10)
	assert.True(t, resp.BodyTruncated)
}

func TestFetcher_EgressBlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	}))
	defer srv.Close()

	_, err := NewFetcher(WithEgressPolicy(DefaultEgressPolicy())).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "egress blocked")
}

func TestFetcher_EgressPinsAllowedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Method))
	}))
	defer srv.Close()

	resp, err := NewFetcher(WithEgressPolicy(PermissiveEgressPolicy())).Do(context.Background(), ports.HTTPRequest{
		Method: "post",
		URL:    srv.URL,
		Body:   []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", string(resp.Body))
}

func TestFetcher_NoRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := NewFetcher(WithHTTPFollowRedirects(false)).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestFetcher_InvalidURL(t *testing.T) {
	_, err := NewFetcher().Get(context.Background(), "")
	require.Error(t, err)

	_, err = NewFetcher().Get(context.Background(), "://bad")
	require.Error(t, err)
}
