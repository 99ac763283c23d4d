// Package metrics метрики prometheus, отдаваемые на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Uploads запросы загрузки по результату: ok, rejected, error
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "design_tools_uploads_total",
			Help: "Total number of upload requests by result",
		},
		[]string{"result"},
	)

	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "design_tools_uploaded_bytes_total",
			Help: "Total number of bytes committed to sessions",
		},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "design_tools_sessions_created_total",
			Help: "Total number of upload sessions created",
		},
	)

	// Downloads скачивания по виду (file, zip) и результату (ok, not_found, error)
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "design_tools_downloads_total",
			Help: "Total number of download requests",
		},
		[]string{"kind", "result"},
	)

	SweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "design_tools_sweep_removed_sessions_total",
			Help: "Total number of expired sessions removed by the sweeper",
		},
	)

	SweepRemovedTemp = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "design_tools_sweep_removed_temp_files_total",
			Help: "Total number of stale staging files removed by the sweeper",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "design_tools_sweep_failures_total",
			Help: "Total number of session entries the sweeper failed to inspect or remove",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "design_tools_sweep_duration_seconds",
			Help:    "Duration of a single sweep over the upload root",
			Buckets: prometheus.DefBuckets,
		},
	)

	// GenerationRequests вызовы API генерации по операции и результату
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "design_tools_generation_requests_total",
			Help: "Total number of generation API calls",
		},
		[]string{"operation", "result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "design_tools_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
