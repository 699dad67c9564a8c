package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatherly_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatherly_authz_decisions_total",
			Help: "Authorization decisions by check and verdict.",
		},
		[]string{"check", "verdict"},
	)

	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatherly_mutations_total",
			Help: "Lifecycle mutations by resource, action and outcome.",
		},
		[]string{"resource", "action", "outcome"},
	)

	slugCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatherly_slug_collisions_total",
			Help: "Slug inserts that lost a uniqueness race and were retried.",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			readyGauge, authzDecisions, mutationsTotal, slugCollisions,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the readiness check result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// RecordDecision counts one authorization verdict.
func RecordDecision(check string, allowed bool) {
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	authzDecisions.WithLabelValues(check, verdict).Inc()
}

// RecordMutation counts one lifecycle mutation. err == nil is a success.
func RecordMutation(resource, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mutationsTotal.WithLabelValues(resource, action, outcome).Inc()
}

// RecordSlugCollision counts a retried slug insert.
func RecordSlugCollision(kind string) {
	slugCollisions.WithLabelValues(kind).Inc()
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in API paths so metric label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "spaces" {
		return p
	}
	// /v1/spaces/{space}[/members|items[/{id}[/assignees[/{user}]]]]
	parts[2] = ":space"
	if len(parts) >= 5 && parts[4] != "search" {
		switch parts[3] {
		case "members":
			parts[4] = ":user"
		case "items":
			parts[4] = ":item"
		}
	}
	if len(parts) >= 7 && parts[5] == "assignees" {
		parts[6] = ":user"
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
