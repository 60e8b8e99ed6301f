package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Total number of B2B gateway calls by endpoint and result code.",
		},
		[]string{"endpoint", "code"},
	)

	gatewayCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "gateway",
			Name:      "credits_charged_total",
			Help:      "Total credits charged through the gateway.",
		},
		[]string{"endpoint"},
	)

	leadsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "leads",
			Name:      "sold_total",
			Help:      "Total number of leads sold.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gatewayCalls,
		gatewayCredits,
		leadsSold,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordGatewayCall records one B2B gateway call outcome.
func RecordGatewayCall(endpoint, code string, creditsUsed int) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if code == "" {
		code = "OK"
	}
	gatewayCalls.WithLabelValues(endpoint, code).Inc()
	if creditsUsed > 0 {
		gatewayCredits.WithLabelValues(endpoint).Add(float64(creditsUsed))
	}
}

// RecordLeadSold counts a completed lead sale.
func RecordLeadSold() {
	leadsSold.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses IDs out of paths so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "api":
		// /api/b2b/{endpoint}
		if len(parts) >= 3 && parts[1] == "b2b" {
			return "/api/b2b/" + parts[2]
		}
		return "/api/b2b"
	case "admin":
		if len(parts) == 1 {
			return "/admin"
		}
		if len(parts) == 2 {
			return "/admin/" + parts[1]
		}
		if len(parts) == 3 {
			return "/admin/" + parts[1] + "/:id"
		}
		return "/admin/" + parts[1] + "/:id/" + parts[3]
	default:
		return "/" + parts[0]
	}
}
