package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "gridauth"

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)

	requests *prometheus.CounterVec
}

// NewServerMetrics creates the HTTP instruments and registers the Prometheus request
// counter with reg.
func NewServerMetrics(reg prometheus.Registerer) (*ServerMetrics, error) {
	meter := otel.Meter("gridauth/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP 5xx responses"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})
	if err := reg.Register(requests); err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
		requests:        requests,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	m.requests.WithLabelValues(method, route, status).Inc()

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// Middleware records every request once the handler chain has returned. The route
// label is the matched chi pattern so path parameters do not explode cardinality.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.RecordRequest(r.Context(), r.Method, route, strconv.Itoa(status),
			float64(time.Since(start).Microseconds())/1000)
	})
}

// AuthMetrics counts authentication resolutions and the outcomes decided for them.
// It satisfies both the resolver's observer and the outcome decider's observer.
type AuthMetrics struct {
	Resolutions    metric.Int64Counter
	Outcomes       metric.Int64Counter
	VerifyDuration metric.Float64Histogram

	resolutions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	meter := otel.Meter("gridauth/auth")

	resolutions, err := meter.Int64Counter(
		"auth.resolution.count",
		metric.WithDescription("Authentication resolutions by chain step and trust domain"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"auth.outcome.count",
		metric.WithDescription("Authentication outcomes by kind"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		return nil, err
	}

	verifyDuration, err := meter.Float64Histogram(
		"auth.verify.duration",
		metric.WithDescription("Credential verification duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	promResolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "resolutions_total",
		Help:      "Authentication resolutions by chain step and trust domain.",
	}, []string{"source", "domain"})
	promOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "outcomes_total",
		Help:      "Authentication outcomes by kind.",
	}, []string{"kind"})
	for _, c := range []prometheus.Collector{promResolutions, promOutcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &AuthMetrics{
		Resolutions:    resolutions,
		Outcomes:       outcomes,
		VerifyDuration: verifyDuration,
		resolutions:    promResolutions,
		outcomes:       promOutcomes,
	}, nil
}

// RecordResolution counts one resolution.
func (a *AuthMetrics) RecordResolution(ctx context.Context, source, domain string) {
	a.Resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthSource, source),
		attribute.String(AttrAuthDomain, domain),
	))
	a.resolutions.WithLabelValues(source, domain).Inc()
}

// RecordOutcome counts one decided outcome.
func (a *AuthMetrics) RecordOutcome(ctx context.Context, kind string) {
	a.Outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuthOutcome, kind)))
	a.outcomes.WithLabelValues(kind).Inc()
}

// RecordVerify records the duration of one credential verification.
func (a *AuthMetrics) RecordVerify(ctx context.Context, success bool, durationMs float64) {
	a.VerifyDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.Bool(AttrAuthSuccess, success)))
}

// RegisterGauge exposes a size function (cached principals, refreshed providers) as
// a Prometheus gauge sampled on scrape.
func RegisterGauge(reg prometheus.Registerer, subsystem, name, help string, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(size()) }))
}

// Common metric attribute keys
const (
	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	// Authentication attributes
	AttrAuthSource  = "auth.source"
	AttrAuthDomain  = "auth.domain"
	AttrAuthOutcome = "auth.outcome"
	AttrAuthSuccess = "auth.success"
)
