// Package config loads the runtime configuration from TOML or YAML files,
// applies defaults and environment overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/moc-dev/moc-runtime/logging"
)

// Environment overrides.
const (
	EnvListen      = "MOC_LISTEN_ADDRESS"
	EnvDataDir     = "MOC_DATA_DIR"
	EnvTokenSecret = "MOC_TOKEN_SECRET"
	EnvTrace       = "MOC_TRACE"
)

// validate is shared; building a validator is expensive.
var validate = validator.New()

// Config is the complete runtime configuration.
type Config struct {
	Server    Server         `toml:"server" yaml:"server" json:"server"`
	Runtime   Runtime        `toml:"runtime" yaml:"runtime" json:"runtime"`
	Fetch     Fetch          `toml:"fetch" yaml:"fetch" json:"fetch"`
	Admin     Admin          `toml:"admin" yaml:"admin" json:"admin"`
	JWT       JWT            `toml:"jwt" yaml:"jwt" json:"jwt"`
	Log       logging.Config `toml:"log" yaml:"log" json:"log"`
	Bootstrap Bootstrap      `toml:"bootstrap" yaml:"bootstrap" json:"bootstrap"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen       string   `toml:"listen" yaml:"listen" json:"listen" validate:"required,hostname_port"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout" json:"write_timeout,omitempty"`
	IdleTimeout  Duration `toml:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout,omitempty"`
	MaxBodyBytes int64    `toml:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes,omitempty" validate:"gt=0"`

	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit,omitempty" validate:"gte=0"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst" json:"rate_burst,omitempty" validate:"gte=0"`

	MetricsPath string `toml:"metrics_path" yaml:"metrics_path" json:"metrics_path,omitempty" validate:"omitempty,startswith=/"`
	TLSCert     string `toml:"tls_cert" yaml:"tls_cert" json:"tls_cert,omitempty" validate:"required_with=TLSKey"`
	TLSKey      string `toml:"tls_key" yaml:"tls_key" json:"tls_key,omitempty" validate:"required_with=TLSCert"`
}

// Runtime configures storage and guest execution.
type Runtime struct {
	// DataDir holds the database. Empty with InMemory set keeps everything
	// in memory.
	DataDir    string `toml:"data_dir" yaml:"data_dir" json:"data_dir,omitempty" validate:"required_without=InMemory"`
	InMemory   bool   `toml:"in_memory" yaml:"in_memory" json:"in_memory,omitempty"`
	SyncWrites bool   `toml:"sync_writes" yaml:"sync_writes" json:"sync_writes,omitempty"`

	Trace            bool     `toml:"trace" yaml:"trace" json:"trace,omitempty"`
	MaxDepth         int      `toml:"max_depth" yaml:"max_depth" json:"max_depth,omitempty" validate:"gte=1,lte=64"`
	Timeout          Duration `toml:"timeout" yaml:"timeout" json:"timeout,omitempty"`
	MaxOutputBytes   int      `toml:"max_output_bytes" yaml:"max_output_bytes" json:"max_output_bytes,omitempty" validate:"gt=0"`
	MaxArgumentBytes uint32   `toml:"max_argument_bytes" yaml:"max_argument_bytes" json:"max_argument_bytes,omitempty" validate:"gt=0"`

	MemoryLimitPages    uint32 `toml:"memory_limit_pages" yaml:"memory_limit_pages" json:"memory_limit_pages,omitempty" validate:"lte=65536"`
	CompilationCacheDir string `toml:"compilation_cache_dir" yaml:"compilation_cache_dir" json:"compilation_cache_dir,omitempty"`
}

// Fetch configures outbound get_url requests.
type Fetch struct {
	Timeout      Duration `toml:"timeout" yaml:"timeout" json:"timeout,omitempty"`
	MaxBodyBytes int64    `toml:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes,omitempty" validate:"gte=0"`
	MaxRedirects int      `toml:"max_redirects" yaml:"max_redirects" json:"max_redirects,omitempty" validate:"gte=0"`

	// AllowPrivate lifts the loopback, private and link-local restrictions.
	AllowPrivate bool     `toml:"allow_private" yaml:"allow_private" json:"allow_private,omitempty"`
	Allowlist    []string `toml:"allowlist" yaml:"allowlist" json:"allowlist,omitempty"`
	Blocklist    []string `toml:"blocklist" yaml:"blocklist" json:"blocklist,omitempty"`
}

// Admin protects the administration API.
type Admin struct {
	Enabled bool `toml:"enabled" yaml:"enabled" json:"enabled,omitempty"`

	// TokenSecret verifies HS256 bearer tokens.
	TokenSecret string `toml:"token_secret" yaml:"token_secret" json:"token_secret,omitempty" validate:"omitempty,min=16"`
	Issuer      string `toml:"issuer" yaml:"issuer" json:"issuer,omitempty"`
	Audience    string `toml:"audience" yaml:"audience" json:"audience,omitempty"`
}

// JWT lists the keys verify_jwt trusts.
type JWT struct {
	Trusted []TrustedKey `toml:"trusted" yaml:"trusted" json:"trusted,omitempty" validate:"dive"`
}

// TrustedKey is one verification key of an issuer. PublicKey is PEM text;
// Secret is an HMAC secret. Exactly one is set.
type TrustedKey struct {
	Issuer    string `toml:"issuer" yaml:"issuer" json:"issuer" validate:"required"`
	KeyID     string `toml:"kid" yaml:"kid" json:"kid" validate:"required"`
	PublicKey string `toml:"public_key" yaml:"public_key" json:"public_key,omitempty" validate:"required_without=Secret,excluded_with=Secret"`
	Secret    string `toml:"secret" yaml:"secret" json:"secret,omitempty" validate:"omitempty,min=16"`
}

// Bootstrap lists blobs, routes and filters installed at startup.
type Bootstrap struct {
	Blobs   []BlobSpec   `toml:"blobs" yaml:"blobs" json:"blobs,omitempty" validate:"dive"`
	Routes  []RouteSpec  `toml:"routes" yaml:"routes" json:"routes,omitempty" validate:"dive"`
	Filters []FilterSpec `toml:"filters" yaml:"filters" json:"filters,omitempty" validate:"dive"`
}

// BlobSpec registers the content of File under Name.
type BlobSpec struct {
	Name        string `toml:"name" yaml:"name" json:"name" validate:"required"`
	File        string `toml:"file" yaml:"file" json:"file" validate:"required"`
	ContentType string `toml:"content_type" yaml:"content_type" json:"content_type,omitempty"`
}

// RouteSpec plugs either a function (Module and EntryPoint) or a static
// blob.
type RouteSpec struct {
	Method     string   `toml:"method" yaml:"method" json:"method" validate:"required"`
	Path       string   `toml:"path" yaml:"path" json:"path" validate:"required,startswith=/"`
	Module     string   `toml:"module" yaml:"module" json:"module,omitempty" validate:"required_without=Blob,excluded_with=Blob"`
	EntryPoint string   `toml:"entry_point" yaml:"entry_point" json:"entry_point,omitempty" validate:"required_with=Module"`
	Blob       string   `toml:"blob" yaml:"blob" json:"blob,omitempty"`
	Data       string   `toml:"data" yaml:"data" json:"data,omitempty"`
	Tags       []string `toml:"tags" yaml:"tags" json:"tags,omitempty"`
}

// FilterSpec installs a filter.
type FilterSpec struct {
	Module     string `toml:"module" yaml:"module" json:"module" validate:"required"`
	EntryPoint string `toml:"entry_point" yaml:"entry_point" json:"entry_point" validate:"required"`
	Data       string `toml:"data" yaml:"data" json:"data,omitempty"`
}

// Defaults returns a configuration that runs in ./data on :8080.
func Defaults() Config {
	return Config{
		Server: Server{
			Listen:       ":8080",
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
			MaxBodyBytes: 1 << 20,
			MetricsPath:  "/metrics",
		},
		Runtime: Runtime{
			DataDir:          "data",
			MaxDepth:         8,
			Timeout:          Duration(30 * time.Second),
			MaxOutputBytes:   10 << 20,
			MaxArgumentBytes: 1 << 20,
		},
		Fetch: Fetch{
			Timeout:      Duration(30 * time.Second),
			MaxBodyBytes: 10 << 20,
			MaxRedirects: 10,
		},
		Log: logging.Defaults(),
	}
}

// ApplyEnv overlays the environment overrides.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Server.Listen = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Runtime.DataDir = v
	}
	if v, ok := lookup(EnvTokenSecret); ok && v != "" {
		c.Admin.TokenSecret = v
		c.Admin.Enabled = true
	}
	if v, ok := lookup(EnvTrace); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.Runtime.Trace = true
		}
	}
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Admin.Enabled && c.Admin.TokenSecret == "" {
		return fmt.Errorf("config validation failed: admin API enabled without a token secret")
	}
	return nil
}
