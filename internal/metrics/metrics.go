package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the Prometheus collectors for the dashboard.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	ServiceOps      *prometheus.CounterVec
	PublishFailures prometheus.Counter

	SyncItems      *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	SyncQueueDepth *prometheus.GaugeVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// Get returns the process-wide metrics, registering them on first use.
//
// Registered series:
//   - bizdash_http_requests_total{method,route,status}
//   - bizdash_http_request_duration_seconds{method,route}
//   - bizdash_service_operations_total{op,result}
//   - bizdash_change_publish_failures_total
//   - bizdash_sync_items_total{entity,result}
//   - bizdash_sync_item_duration_seconds
//   - bizdash_sync_queue_items{status}
//   - bizdash_cache_hits_total{cache}, bizdash_cache_misses_total{cache}
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			HTTPRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bizdash_http_requests_total",
					Help: "HTTP requests by method, route pattern and status code",
				},
				[]string{"method", "route", "status"},
			),
			HTTPDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "bizdash_http_request_duration_seconds",
					Help:    "HTTP request latency",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
				},
				[]string{"method", "route"},
			),
			ServiceOps: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bizdash_service_operations_total",
					Help: "Project service operations by name and result",
				},
				[]string{"op", "result"},
			),
			PublishFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "bizdash_change_publish_failures_total",
					Help: "Change notifications that could not be published to AMQP",
				},
			),
			SyncItems: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bizdash_sync_items_total",
					Help: "Sync queue items processed, by entity and result (ok, retry, failed)",
				},
				[]string{"entity", "result"},
			),
			SyncDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "bizdash_sync_item_duration_seconds",
					Help:    "Time spent writing one item to the mirror",
					Buckets: prometheus.DefBuckets,
				},
			),
			SyncQueueDepth: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "bizdash_sync_queue_items",
					Help: "Sync queue rows by status",
				},
				[]string{"status"},
			),
			CacheHits: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bizdash_cache_hits_total",
					Help: "Read cache hits",
				},
				[]string{"cache"},
			),
			CacheMisses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bizdash_cache_misses_total",
					Help: "Read cache misses",
				},
				[]string{"cache"},
			),
		}
	})
	return global
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Op counts a service operation; err decides the result label.
func (m *Metrics) Op(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ServiceOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SyncResult(entity, result string, elapsed time.Duration) {
	m.SyncItems.WithLabelValues(entity, result).Inc()
	m.SyncDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(pending, processing, completed, failed int64) {
	m.SyncQueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.SyncQueueDepth.WithLabelValues("processing").Set(float64(processing))
	m.SyncQueueDepth.WithLabelValues("completed").Set(float64(completed))
	m.SyncQueueDepth.WithLabelValues("failed").Set(float64(failed))
}
