package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}
	prometheusMW   prometheusMiddleware
)

const (
	apiReqsName    = "ops_api_requests_total"
	apiLatencyName = "ops_api_request_duration_milliseconds"
	service        = "playoutd"
)

// prometheusMiddleware provides a handler that exposes request metrics for
// the ops API.
type prometheusMiddleware struct {
	apiReqs    *prometheus.CounterVec
	apiLatency *prometheus.HistogramVec
}

func init() {
	prometheusMW.apiReqs = newCounter(apiReqsName,
		"Number of ops API requests processed, partitioned by status code.", service)
	prometheusMW.apiLatency = newHistogram(apiLatencyName,
		"Ops API response latency.", service, defaultBuckets)
}

// NewPrometheusMiddleware returns a new prometheus middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			return
		}
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		mw.apiReqs.WithLabelValues(status).Inc()
		mw.apiLatency.WithLabelValues(status).Observe(latencyMS)
	}
	return http.HandlerFunc(fn)
}

func newCounter(counterName, help, serviceName string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{"code"},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}
