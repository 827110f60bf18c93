// Package telemetry provides application-level observability for routedesk.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<RD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit record write, error and drop counters, and the audit queue depth gauge
//   - System setting update counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/audit/records/:id)
// rather than the raw request URL. Requests dispatched through the route table
// have no template and are recorded under the path label "unmatched".
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit pipeline metrics, recorded by the audit dispatcher and its writers.
//
// AuditRecordsWrittenTotal counts records successfully saved, by record type
// and store ("postgres" or "mongo").
//
// AuditRecordWriteErrorsTotal counts records that could not be saved after all
// retries were exhausted. Any sustained increase means audit data is being lost.
//
// AuditRecordsDroppedTotal counts records rejected because the queue was full.
//
// AuditShipErrorsTotal counts saved records a shipper failed to forward,
// including records shipped after shutdown closed the shippers.
//
// Example PromQL queries:
//   - Write rate by type:   sum by (type) (rate(audit_records_written_total[5m]))
//   - Alert expression:     increase(audit_record_write_errors_total[10m]) > 0
//   - Drop alert:           increase(audit_records_dropped_total[5m]) > 0
var (
	AuditRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Total number of audit records persisted, by record type and store.",
		},
		[]string{"type", "store"},
	)

	AuditRecordWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_record_write_errors_total",
			Help: "Total number of audit records that failed to persist after all retries, by store.",
		},
		[]string{"store"},
	)

	AuditRecordsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_records_dropped_total",
			Help: "Total number of audit records dropped because the write queue was full.",
		},
	)

	AuditShipErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_ship_errors_total",
			Help: "Total number of persisted audit records a shipper failed to forward.",
		},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Current number of audit records waiting to be written.",
		},
	)
)

// SettingUpdatesTotal counts system setting writes, by key and result
// ("ok", "invalid" or "error").
var SettingUpdatesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "setting_updates_total",
		Help: "Total number of system setting updates, by key and result.",
	},
	[]string{"key", "result"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
