// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	checkpointsTotal       *prometheus.CounterVec
	attemptTransitions     *prometheus.CounterVec
	snapshotBuildsTotal    *prometheus.CounterVec
	snapshotBuildSeconds   prometheus.Histogram
	snapshotCacheLookups   *prometheus.CounterVec
	workerFlushedRowsTotal *prometheus.CounterVec
)

// Register initialises the collectors. Safe to call many times.
func Register() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proctor_http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		checkpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_checkpoints_total",
			Help: "Evaluated checkpoint submissions by outcome.",
		}, []string{"outcome"})

		attemptTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_attempt_transitions_total",
			Help: "Attempt state transitions by kind.",
		}, []string{"kind"})

		snapshotBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_snapshot_builds_total",
			Help: "Snapshot ensure-built calls by result.",
		}, []string{"result"})

		snapshotBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_snapshot_build_seconds",
			Help:    "Time spent freezing a session snapshot.",
			Buckets: prometheus.DefBuckets,
		})

		snapshotCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_snapshot_cache_lookups_total",
			Help: "Student payload cache lookups by result.",
		}, []string{"result"})

		workerFlushedRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_worker_flushed_rows_total",
			Help: "Rows persisted by background workers.",
		}, []string{"worker", "mode"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds,
			checkpointsTotal, attemptTransitions,
			snapshotBuildsTotal, snapshotBuildSeconds, snapshotCacheLookups,
			workerFlushedRowsTotal,
		)
	})
}

// Checkpoint records one evaluated checkpoint submission.
// outcome is one of ok, mismatch, cooldown.
func Checkpoint(outcome string) {
	Register()
	checkpointsTotal.WithLabelValues(outcome).Inc()
}

// AttemptTransition records a state change such as started, locked or auto_submitted.
func AttemptTransition(kind string) {
	Register()
	attemptTransitions.WithLabelValues(kind).Inc()
}

// SnapshotBuild records the result of an ensure-built call (built, existing, failed).
func SnapshotBuild(result string, elapsed time.Duration) {
	Register()
	snapshotBuildsTotal.WithLabelValues(result).Inc()
	if result == "built" {
		snapshotBuildSeconds.Observe(elapsed.Seconds())
	}
}

// SnapshotCache records a payload cache hit or miss.
func SnapshotCache(hit bool) {
	Register()
	result := "miss"
	if hit {
		result = "hit"
	}
	snapshotCacheLookups.WithLabelValues(result).Inc()
}

// WorkerFlushed records rows persisted by a worker in bulk or fallback mode.
func WorkerFlushed(worker, mode string, rows int) {
	Register()
	workerFlushedRowsTotal.WithLabelValues(worker, mode).Add(float64(rows))
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	Register()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatencySeconds.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	Register()
	return gin.WrapH(promhttp.Handler())
}
