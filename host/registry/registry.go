// Package registry keeps the JSON Schema of every admin operation request.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/moc-dev/moc-runtime/application/schema"
)

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	strictMode bool // Fail on duplicate registrations
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		strictMode: true,
	}
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*registryConfig)

// WithStrictMode enables/disables strict mode for duplicate registrations.
// Default is true (fail on duplicates).
func WithStrictMode(enabled bool) RegistryOption {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// Registry maps operation names to request schemas.
type Registry struct {
	config  registryConfig
	schemas sync.Map // map[string]json.RawMessage
}

// NewRegistry creates a new Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{config: cfg}
}

// Register reflects the schema of the request model of op.
func (r *Registry) Register(op string, model any) error {
	if r.config.strictMode {
		if _, exists := r.schemas.Load(op); exists {
			return fmt.Errorf("operation %q already registered", op)
		}
	}

	data, err := schema.Generate(model)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.schemas.Store(op, data)
	return nil
}

// Schema returns the request schema of op.
func (r *Registry) Schema(op string) (json.RawMessage, bool) {
	v, ok := r.schemas.Load(op)
	if !ok {
		return nil, false
	}
	return v.(json.RawMessage), true
}

// List returns every registered operation, sorted.
func (r *Registry) List() []string {
	var ops []string
	r.schemas.Range(func(k, _ any) bool {
		ops = append(ops, k.(string))
		return true
	})
	sort.Strings(ops)
	return ops
}
