// Package serverfx assembles the serve command with fx: logger, metrics,
// runtime and HTTP server, each bound to the application lifecycle.
package serverfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/host"
	"github.com/moc-dev/moc-runtime/logging"
	"github.com/moc-dev/moc-runtime/metrics"
	"github.com/moc-dev/moc-runtime/server"
)

// Module wires everything from cfg.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			metrics.New,
			provideRuntime,
			provideHandler,
			provideServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(func(*Server) {}),
	)
}

// LoggerModule replaces the configured logger, for tests.
func LoggerModule(l *zap.Logger) fx.Option {
	return fx.Decorate(func(*zap.Logger) *zap.Logger { return l })
}

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	l, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
	return l, nil
}

func provideRuntime(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, rec *metrics.Recorder) (*host.Runtime, error) {
	keys, err := host.NewKeyring(cfg.JWT, nil)
	if err != nil {
		return nil, err
	}
	if n := keys.Len(); n > 0 {
		logger.Info("trusted token keys loaded", zap.Int("keys", n))
	}
	opts := append(host.FromConfig(cfg, logger), host.WithRecorder(rec), host.WithTokenVerifier(keys))
	rt, err := host.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.Bootstrap(cfg.Bootstrap); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("runtime stopping")
			return rt.Close(ctx)
		},
	})
	return rt, nil
}

func provideHandler(cfg *config.Config, rt *host.Runtime, logger *zap.Logger, rec *metrics.Recorder) http.Handler {
	return server.NewHandler(cfg, server.Deps{Runtime: rt, Logger: logger, Metrics: rec})
}

// Server is the running HTTP listener.
type Server struct {
	srv *http.Server

	mu   sync.Mutex
	addr net.Addr
}

// Addr is the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func provideServer(lc fx.Lifecycle, cfg *config.Config, h http.Handler, logger *zap.Logger) *Server {
	s := &Server{srv: server.NewHTTPServer(cfg.Server, h)}
	useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
			}
			s.mu.Lock()
			s.addr = ln.Addr()
			s.mu.Unlock()

			logger.Info("server starting", zap.String("addr", ln.Addr().String()), zap.Bool("tls", useTLS))
			go func() {
				var err error
				if useTLS {
					err = s.srv.ServeTLS(ln, cfg.Server.TLSCert, cfg.Server.TLSKey)
				} else {
					err = s.srv.Serve(ln)
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("server stopping")
			return s.srv.Shutdown(ctx)
		},
	})
	return s
}
