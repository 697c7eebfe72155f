// Package metrics holds the prometheus collectors exposed on /-/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method, route pattern and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataserve_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// QueryDuration is the time spent inside the query engine.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataserve_query_duration_seconds",
			Help:    "SQL execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database", "outcome"},
	)
	// ExportRows counts rows written to CSV exports.
	ExportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataserve_export_rows_total",
			Help: "Rows written to CSV exports",
		},
		[]string{"database"},
	)
	// ExportsTotal counts finished exports by outcome (complete, failed, cancelled).
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataserve_exports_total",
			Help: "CSV exports by outcome",
		},
		[]string{"database", "outcome"},
	)
	// ActiveExports tracks full-result streaming exports in progress.
	ActiveExports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataserve_active_exports",
			Help: "Streaming exports currently holding a slot",
		},
	)
	// WritesTotal counts queued writes by outcome.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataserve_writes_total",
			Help: "Writes applied through per-database write queues",
		},
		[]string{"database", "outcome"},
	)
	// WriteDuration is how long the write path took to apply a statement.
	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataserve_write_duration_seconds",
			Help:    "Write application time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database"},
	)
	// HashRedirects counts canonical-hash redirects issued.
	HashRedirects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataserve_hash_redirects_total",
			Help: "Redirects to the content-hashed canonical URL",
		},
	)
)
