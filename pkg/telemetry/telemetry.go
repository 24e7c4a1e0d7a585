// Package telemetry is low-overhead request timing for the REST
// surface. Every request feeds the duration histogram; only slow ones
// are logged.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"teamwire/pkg/logger"
)

var slowThresholdMs int64 = 200

// SetSlowThreshold adjusts the slow-request log threshold.
func SetSlowThreshold(d time.Duration) {
	atomic.StoreInt64(&slowThresholdMs, d.Milliseconds())
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "teamwire_http_request_duration_seconds",
	Help:    "REST request duration by route and status class.",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "method", "class"})

// statusRecorder captures the response code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware times each request. The websocket handshake is excluded:
// its handler holds the connection open for the session's lifetime.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		requestDuration.WithLabelValues(routeOf(r), r.Method, classOf(rec.status)).
			Observe(elapsed.Seconds())
		if elapsed.Milliseconds() >= atomic.LoadInt64(&slowThresholdMs) {
			logger.Warn("slow_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
	})
}

// routeOf returns the mux route template so path variables do not blow
// up label cardinality.
func routeOf(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func classOf(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
