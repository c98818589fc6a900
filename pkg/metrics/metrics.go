// Package metrics holds the Prometheus collectors shared by the caches, the
// backend adapter and the HTTP server.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Component label values.
const (
	ComponentRecord  = "record"
	ComponentVector  = "vector"
	ComponentLayered = "layered"
)

// Lookup result label values.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

var (
	// Counter: lookups by component and outcome.
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmescache_lookups_total",
			Help: "Total number of cache lookups by component and result.",
		},
		[]string{"component", "result"},
	)

	// Counter: successful writes by component and operation.
	WritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmescache_writes_total",
			Help: "Total number of successful cache writes by component and operation.",
		},
		[]string{"component", "op"},
	)

	// Counter: bulk requests in which at least one action failed.
	BulkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmescache_bulk_failures_total",
			Help: "Total number of bulk requests that reported at least one failed action.",
		},
		[]string{"op"},
	)

	// Histogram: backend call latency in seconds.
	BackendSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmescache_backend_seconds",
			Help:    "Latency of Elasticsearch calls in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	// Histogram: HTTP latency of the service endpoints in seconds.
	HTTPRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmescache_http_request_seconds",
			Help:    "HTTP request latency of the service in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register adds every collector to reg. Collectors that are already
// registered are skipped, so Register may be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		LookupsTotal,
		WritesTotal,
		BulkFailuresTotal,
		BackendSeconds,
		HTTPRequestSeconds,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Lookup counts one lookup outcome.
func Lookup(component string, hit bool, err error) {
	result := ResultMiss
	switch {
	case err != nil:
		result = ResultError
	case hit:
		result = ResultHit
	}
	LookupsTotal.WithLabelValues(component, result).Inc()
}

// Write counts one successful write.
func Write(component, op string) {
	WritesTotal.WithLabelValues(component, op).Inc()
}

// BulkFailure counts one bulk request with failed actions.
func BulkFailure(op string) {
	BulkFailuresTotal.WithLabelValues(op).Inc()
}

// Time starts a backend latency observation; call the returned func when the
// call has finished.
func Time(operation string) func() {
	timer := prometheus.NewTimer(BackendSeconds.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		HTTPRequestSeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
