// Package metric provides the cross-cutting HTTP metrics middleware used
// by the API Controllers, grounded directly on atc/metric's
// httpsnoop-based wrapper.
package metric

import (
	"net/http"
	"strconv"

	"code.cloudfoundry.org/lager/v3"
	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Registry groups the counters/histograms the handler wrapper emits into.
type Registry struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arxiv_compiler",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arxiv_compiler",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(r.requestDuration, r.requestsTotal)
	return r
}

// handler wraps an http.Handler, capturing status code and duration via
// httpsnoop and attaching the OTel trace id when one is present on the
// request context, mirroring atc/metric.MetricsHandler.
type handler struct {
	logger  lager.Logger
	route   string
	next    http.Handler
	metrics *Registry
}

// WrapHandler wraps next with request metrics and logging for route.
func WrapHandler(logger lager.Logger, metrics *Registry, route string, next http.Handler) http.Handler {
	return handler{logger: logger, route: route, next: next, metrics: metrics}
}

func (h handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	captured := httpsnoop.CaptureMetrics(h.next, w, r)

	var traceID string
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	code := http.StatusText(captured.Code)
	labels := prometheus.Labels{"route": h.route, "method": r.Method, "code": strconv.Itoa(captured.Code)}
	h.metrics.requestDuration.With(labels).Observe(captured.Duration.Seconds())
	h.metrics.requestsTotal.With(labels).Inc()

	h.logger.Session("http-request", lager.Data{
		"route":      h.route,
		"path":       r.URL.Path,
		"method":     r.Method,
		"status":     captured.Code,
		"status_txt": code,
		"duration":   captured.Duration.String(),
		"trace_id":   traceID,
	}).Debug("served")
}
