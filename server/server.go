package server

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/config"
	"github.com/moc-dev/moc-runtime/dispatch"
	"github.com/moc-dev/moc-runtime/host"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/metrics"
)

// AdminPrefix is where the administration API is mounted.
const AdminPrefix = "/_moc/api"

type message struct {
	Message string `json:"message"`
}

// Deps are the collaborators of the handler.
type Deps struct {
	Runtime *host.Runtime
	Logger  *zap.Logger

	// Metrics is optional; without it no metrics endpoint is mounted.
	Metrics *metrics.Recorder
}

// NewHandler builds the HTTP surface of the runtime.
func NewHandler(cfg *config.Config, d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(accessLog(logger.Named("http")))
	if d.Metrics != nil {
		r.Use(d.Metrics.Collect(cfg.Server.MetricsPath))
	}
	r.Use(rateLimit(newLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 0)))

	if d.Metrics != nil && cfg.Server.MetricsPath != "" {
		r.Method(http.MethodGet, cfg.Server.MetricsPath, d.Metrics.Handler())
	}

	if cfg.Admin.Enabled {
		a := &adminAPI{rt: d.Runtime, maxBody: cfg.Server.MaxBodyBytes}
		auth := NewAuthenticator(cfg.Admin, logger.Named("auth"))
		r.Route(AdminPrefix, func(r chi.Router) {
			r.Use(auth.Middleware)
			r.NotFound(a.unknown)
			r.MethodNotAllowed(a.unknown)
			r.Get("/", a.list)
			r.Get("/{op}/schema", a.schema)
			r.Post("/{op}", a.invoke)
		})
	}

	serve := dispatchHandler(d.Runtime.Dispatcher(), cfg.Server.MaxBodyBytes, logger)
	r.Handle("/*", serve)
	r.NotFound(serve.ServeHTTP)
	r.MethodNotAllowed(serve.ServeHTTP)
	return r
}

// dispatchHandler hands the request to the dispatcher.
func dispatchHandler(d *dispatch.Dispatcher, maxBody int64, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := dispatch.FromHTTP(r, maxBody)
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, message{Message: err.Error()})
			return
		}
		resp := d.ServeRequest(r.Context(), req)
		if err := resp.Write(w); err != nil {
			logger.Debug("response write failed", zap.String("path", req.Path), zap.Error(err))
		}
	})
}

type adminAPI struct {
	rt      *host.Runtime
	maxBody int64
}

func (a *adminAPI) unknown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, message{Message: "unknown admin endpoint " + r.Method + " " + r.URL.Path})
}

func (a *adminAPI) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"operations": a.rt.Admin().Names()})
}

func (a *adminAPI) schema(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	raw, ok := a.rt.Schemas().Schema(op)
	if !ok {
		writeJSON(w, http.StatusNotFound, message{Message: "unknown operation: " + op})
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (a *adminAPI) invoke(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, message{Message: err.Error()})
		return
	}
	if int64(len(body)) > a.maxBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, message{Message: "request body too large"})
		return
	}

	out, err := a.rt.Admin().Invoke(r.Context(), op, body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, hostfuncs.NewInternalError(err.Error()))
		return
	}
	status := http.StatusOK
	if er, isErr := hostfuncs.IsErrorResponse(out); isErr {
		status = er.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHTTPServer wraps h with the listener settings of cfg.
func NewHTTPServer(cfg config.Server, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout.Std(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout.Std(),
		IdleTimeout:       cfg.IdleTimeout.Std(),
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
}
