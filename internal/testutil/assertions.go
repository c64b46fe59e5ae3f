// Package testutil provides test fixtures for the runtime: a native Go guest
// engine, flat guest memory, sample guests and assertions.
package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/hostfuncs"
)

// AssertJSONEqual compares two JSON documents ignoring formatting and key
// order.
func AssertJSONEqual(t *testing.T, expected, actual string, msgAndArgs ...any) {
	t.Helper()

	var want, got any
	require.NoError(t, json.Unmarshal([]byte(expected), &want), "expected JSON is invalid")
	require.NoError(t, json.Unmarshal([]byte(actual), &got), "actual JSON is invalid: %s", actual)
	assert.Equal(t, want, got, msgAndArgs...)
}

// RequireErrorResponse fails unless payload is an admin error document
// with the given code, and returns it.
func RequireErrorResponse(t *testing.T, payload []byte, code int) hostfuncs.ErrorResponse {
	t.Helper()

	resp, ok := hostfuncs.IsErrorResponse(payload)
	require.True(t, ok, "expected an error response, got %s", payload)
	require.Equal(t, code, resp.Code, resp.Message)
	return resp
}
