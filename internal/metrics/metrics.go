// Package metrics provides Prometheus instrumentation for the trustd engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustd",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FeedbackPostedTotal counts accepted feedback entries by type and
	// whether a stake was bonded.
	FeedbackPostedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustd",
			Name:      "feedback_posted_total",
			Help:      "Total feedback entries accepted, by type and staked flag.",
		},
		[]string{"type", "staked"},
	)

	// FeedbackRejectedTotal counts rejected postings by reason.
	FeedbackRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustd",
			Name:      "feedback_rejected_total",
			Help:      "Total feedback postings rejected, by reason.",
		},
		[]string{"reason"},
	)

	// DisputesOpenedTotal counts opened disputes.
	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustd",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	// DisputesResolvedTotal counts resolutions by outcome.
	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustd",
			Name:      "disputes_resolved_total",
			Help:      "Total dispute resolutions by outcome (kept/removed) and stake disposition.",
		},
		[]string{"outcome", "stake"},
	)

	// ScoreRecomputesTotal counts full ledger rescans.
	ScoreRecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustd",
		Name:      "score_recomputes_total",
		Help:      "Total reputation score recomputations.",
	})

	// ScoreRecomputeDuration observes rescan latency.
	ScoreRecomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trustd",
		Name:      "score_recompute_duration_seconds",
		Help:      "Reputation recompute duration in seconds.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	})

	// StakesHeldTotal counts stake escrows opened.
	StakesHeldTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustd",
		Name:      "stakes_held_total",
		Help:      "Total stakes bonded behind feedback entries.",
	})

	// StakesReleasedTotal counts stake releases by disposition.
	StakesReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustd",
			Name:      "stakes_released_total",
			Help:      "Total stakes released, by disposition (refund/slash).",
		},
		[]string{"disposition"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustd",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustd", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FeedbackPostedTotal,
		FeedbackRejectedTotal,
		DisputesOpenedTotal,
		DisputesResolvedTotal,
		ScoreRecomputesTotal,
		ScoreRecomputeDuration,
		StakesHeldTotal,
		StakesReleasedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
