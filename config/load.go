package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/moc-dev/moc-runtime/application/schema"
)

// ParseError reports a malformed configuration document.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads path over the defaults, applies the process environment and
// validates the result. An empty path loads the defaults alone. Relative
// bootstrap blob files are resolved against the directory of path.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, err
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes data over the defaults without consulting the environment.
// The format is chosen by the extension of name.
func Parse(name string, data []byte) (*Config, error) {
	cfg := Defaults()
	if err := decode(name, data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(name string, data []byte, cfg *Config) error {
	var err error
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return &ParseError{Path: name, Err: err}
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	for i := range c.Bootstrap.Blobs {
		if f := c.Bootstrap.Blobs[i].File; f != "" && !filepath.IsAbs(f) {
			c.Bootstrap.Blobs[i].File = filepath.Join(base, f)
		}
	}
}

// Schema returns the JSON Schema of Config.
func Schema() ([]byte, error) {
	return schema.GenerateSchema(&Config{})
}
