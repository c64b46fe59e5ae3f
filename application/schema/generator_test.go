package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-dev/moc-runtime/logging"
)

type plugRoute struct {
	Method string   `json:"method" jsonschema:"enum=GET,enum=POST"`
	Path   string   `json:"path"`
	Tags   []string `json:"tags,omitempty"`
	Target target   `json:"target"`
}

type target struct {
	Module     string `json:"module"`
	EntryPoint string `json:"entry_point"`
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestGenerate_InlinesNestedStructs(t *testing.T) {
	data, err := Generate(&plugRoute{})
	require.NoError(t, err)

	doc := decode(t, data)
	assert.NotContains(t, doc, "$defs")
	assert.Equal(t, "object", doc["type"])

	props := doc["properties"].(map[string]any)
	assert.Len(t, props, 4)

	nested := props["target"].(map[string]any)
	assert.Contains(t, nested["properties"], "entry_point")

	required := doc["required"].([]any)
	assert.ElementsMatch(t, []any{"method", "path", "target"}, required)

	method := props["method"].(map[string]any)
	assert.ElementsMatch(t, []any{"GET", "POST"}, method["enum"])
}

func TestGenerateSchema_Indented(t *testing.T) {
	pretty, err := GenerateSchema(&plugRoute{})
	require.NoError(t, err)
	compact, err := Generate(&plugRoute{})
	require.NoError(t, err)

	assert.Contains(t, string(pretty), "\n  ")
	assert.Equal(t, decode(t, compact), decode(t, pretty))
}

func TestGenerate_EmptyStruct(t *testing.T) {
	data, err := Generate(&struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "object", decode(t, data)["type"])
}

// Config shares its name with logging.Config on purpose.
type Config struct {
	Listen string         `json:"listen"`
	Log    logging.Config `json:"log"`
}

func TestGenerate_SameNamedTypes(t *testing.T) {
	data, err := Generate(&Config{})
	require.NoError(t, err)

	props := decode(t, data)["properties"].(map[string]any)
	assert.Contains(t, props, "listen")
	require.Contains(t, props, "log")

	log := props["log"].(map[string]any)
	assert.Contains(t, log["properties"], "level")
	assert.NotContains(t, props, "level")
}
