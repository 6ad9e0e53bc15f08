package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. Each instance registers on its own
// registerer so tests can build several without colliding on the default one.
type Metrics struct {
	registry        *prometheus.Registry
	LoginAttempts   *prometheus.CounterVec
	TrackedLockouts prometheus.GaugeFunc
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(trackedIdentifiers func() int) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	if trackedIdentifiers != nil {
		m.TrackedLockouts = factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "auth_login_tracker_entries",
				Help: "Identifiers currently held by the login attempt tracker",
			},
			func() float64 { return float64(trackedIdentifiers()) },
		)
	}

	return m
}

func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func MetricsMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.RequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Observe(time.Since(start).Seconds())
	})
}
