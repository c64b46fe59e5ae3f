// Package metrics exports dispatch and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moc-dev/moc-runtime/domain/entities"
)

const namespace = "moc"

// Recorder implements dispatch.Recorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	buffersCreated prometheus.Counter
	buffersLive    prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	responseTime prometheus.Histogram
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		buffersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "buffers_created_total", Help: "exchange buffers created",
		}),
		buffersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "buffers_live", Help: "exchange buffers not yet freed",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "dispatched requests by method, status and final state",
		}, []string{"method", "code", "state"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_duration_seconds", Help: "dispatch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invocations_total", Help: "guest invocations by module, mode and result",
		}, []string{"module", "mode", "result"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "invocation_duration_seconds", Help: "guest execution time",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "http requests by code and method",
		}, []string{"code", "method"}),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_response_time_seconds", Help: "http response time",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 10, 30, 60},
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.buffersCreated,
		r.buffersLive,
		r.requests,
		r.requestDuration,
		r.invocations,
		r.invocationDuration,
		r.httpRequests,
		r.responseTime,
	)
	return r
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) BufferCreated() {
	r.buffersCreated.Inc()
	r.buffersLive.Inc()
}

func (r *Recorder) BufferFreed() { r.buffersLive.Dec() }

func (r *Recorder) RequestCompleted(method string, status int, state entities.InvocationState, elapsed time.Duration) {
	r.requests.WithLabelValues(method, strconv.Itoa(status), state.String()).Inc()
	r.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (r *Recorder) InvocationCompleted(module string, mode entities.CallMode, failed bool, elapsed time.Duration) {
	result := "ok"
	if failed {
		result = "error"
	}
	if mode == "" {
		mode = entities.ModeDirect
	}
	r.invocations.WithLabelValues(module, string(mode), result).Inc()
	r.invocationDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}
