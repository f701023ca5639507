// Package metrics records agent and HTTP activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements the agent Observer and instruments HTTP handlers.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
}

// NewRecorder registers all metrics on its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by agent, model and status",
			},
			[]string{"agent", "model", "status", "error_type"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"agent", "model", "type"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "model"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "Number of chat sessions held in memory",
		}),
	}
}

// Registry exposes the registry, e.g. for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveRequest records one completed LLM request.
func (r *Recorder) ObserveRequest(agent, model string, promptTokens, completionTokens int, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.requestsTotal.WithLabelValues(agent, model, status, errorType(err)).Inc()

	if err == nil {
		r.tokensTotal.WithLabelValues(agent, model, "prompt").Add(float64(promptTokens))
		r.tokensTotal.WithLabelValues(agent, model, "completion").Add(float64(completionTokens))
	}
	r.requestDuration.WithLabelValues(agent, model).Observe(duration.Seconds())
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "other"
}

// SetActiveSessions reports how many sessions are held in memory.
func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests per chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		r.httpRequests.WithLabelValues(route, req.Method, strconv.Itoa(code)).Inc()
		r.httpDuration.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
	})
}
