// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, encoding and optional rotating file output.
type Config struct {
	Level  string `toml:"level" yaml:"level" json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" json:"format,omitempty" validate:"omitempty,oneof=json console"`

	// File, when set, receives a copy of every entry and is rotated by size.
	File       string `toml:"file" yaml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups" json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days" json:"max_age_days,omitempty" validate:"gte=0"`
}

// Defaults returns the logging defaults.
func Defaults() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// Option configures New.
type Option func(*options)

type options struct {
	console zapcore.WriteSyncer
}

// WithConsole replaces stdout as the console sink.
func WithConsole(w zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.console = w
	}
}

// New returns a logger writing to the console and, when cfg.File is set, to
// a lumberjack-rotated file.
func New(cfg Config, opts ...Option) (*zap.Logger, error) {
	o := options{console: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, o.console, level)}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
