// Package metrics provides Prometheus instrumentation for the platform.
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
			Namespace: "adkarma",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adkarma",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ClicksIngestedTotal counts tracking clicks by classification.
	ClicksIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adkarma",
			Name:      "clicks_ingested_total",
			Help:      "Total click events ingested by classification (clean, fraud, uncounted).",
		},
		[]string{"classification"},
	)

	// FraudFlagsTotal counts fraud flags raised or escalated by type.
	FraudFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adkarma",
			Name:      "fraud_flags_total",
			Help:      "Total fraud flags raised or escalated by flag type.",
		},
		[]string{"type"},
	)

	// EscrowOpsTotal counts escrow operations by kind.
	EscrowOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adkarma",
			Name:      "escrow_operations_total",
			Help:      "Total escrow operations by kind (lock, release, refund).",
		},
		[]string{"kind"},
	)

	// PayoutsExecutedTotal counts payout executor outcomes by status.
	PayoutsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adkarma",
			Name:      "payouts_executed_total",
			Help:      "Total payout executions by final status.",
		},
		[]string{"status"},
	)

	// ReconcileRunsTotal counts earnings reconciliation runs by result.
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adkarma",
			Name:      "reconcile_runs_total",
			Help:      "Total earnings reconciliation runs by result.",
		},
		[]string{"result"},
	)

	// SweepDuration observes fraud sweep duration.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adkarma",
		Name:      "fraud_sweep_duration_seconds",
		Help:      "Fraud detection sweep duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adkarma", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adkarma", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adkarma", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adkarma", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ClicksIngestedTotal,
		FraudFlagsTotal,
		EscrowOpsTotal,
		PayoutsExecutedTotal,
		ReconcileRunsTotal,
		SweepDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
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
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket collapses status codes into class buckets to keep label
// cardinality low.
func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
