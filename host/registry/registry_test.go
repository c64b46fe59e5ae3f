package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plugRequest struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type statusRequest struct{}

func TestRegistry_RegisterSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("plug", &plugRequest{}))
	require.NoError(t, r.Register("status", &statusRequest{}))

	assert.Equal(t, []string{"plug", "status"}, r.List())

	raw, ok := r.Schema("plug")
	require.True(t, ok)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "method")
	assert.Contains(t, props, "path")

	_, ok = r.Schema("missing")
	assert.False(t, ok)
}

func TestRegistry_StrictMode(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("plug", &plugRequest{}))
	assert.Error(t, r.Register("plug", &plugRequest{}))

	lax := NewRegistry(WithStrictMode(false))
	require.NoError(t, lax.Register("plug", &plugRequest{}))
	assert.NoError(t, lax.Register("plug", &plugRequest{}))
}
