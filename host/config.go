package host

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/infrastructure/wazero"
)

// FromConfig translates the runtime sections of cfg into options.
func FromConfig(cfg *config.Config, logger *zap.Logger) []Option {
	rc := cfg.Runtime
	opts := []Option{
		WithLogger(logger),
		WithTrace(rc.Trace),
		WithMaxDepth(rc.MaxDepth),
		WithMaxOutputSize(rc.MaxOutputBytes),
		WithMaxArgument(rc.MaxArgumentBytes),
		WithTimeout(rc.Timeout.Std()),
		WithSyncWrites(rc.SyncWrites),
		WithHTTPClient(newFetcher(cfg.Fetch)),
	}
	if !rc.InMemory {
		opts = append(opts, WithDataDir(rc.DataDir))
	}

	var wopts []wazero.AdapterOption
	if rc.MemoryLimitPages > 0 {
		wopts = append(wopts, wazero.WithMemoryLimitPages(rc.MemoryLimitPages))
	}
	if rc.CompilationCacheDir != "" {
		wopts = append(wopts, wazero.WithCompilationCacheDir(rc.CompilationCacheDir))
	}
	if len(wopts) > 0 {
		opts = append(opts, WithWasmOptions(wopts...))
	}
	return opts
}

func newFetcher(fc config.Fetch) *hostfuncs.Fetcher {
	policy := hostfuncs.DefaultEgressPolicy()
	if fc.AllowPrivate {
		policy = hostfuncs.PermissiveEgressPolicy()
	}
	policy.Allowlist = fc.Allowlist
	policy.Blocklist = fc.Blocklist

	return hostfuncs.NewFetcher(
		hostfuncs.WithEgressPolicy(policy),
		hostfuncs.WithHTTPRequestTimeout(fc.Timeout.Std()),
		hostfuncs.WithHTTPMaxBodySize(fc.MaxBodyBytes),
		hostfuncs.WithHTTPMaxRedirects(fc.MaxRedirects),
	)
}

// NewKeyring builds the verify_jwt keyring from the trusted keys in jc.
func NewKeyring(jc config.JWT, clk clock.Clock) (*hostfuncs.Keyring, error) {
	keys := hostfuncs.NewKeyring(clk)
	for _, tk := range jc.Trusted {
		var err error
		if tk.Secret != "" {
			err = keys.AddKey(tk.Issuer, tk.KeyID, []byte(tk.Secret))
		} else {
			err = keys.AddPEM(tk.Issuer, tk.KeyID, []byte(tk.PublicKey))
		}
		if err != nil {
			return nil, fmt.Errorf("trusted key: %w", err)
		}
	}
	return keys, nil
}
