// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentwatch"

var (
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "route"},
	)

	ScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of an incident scan over the requested devices.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	IncidentsDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_detected_total",
			Help:      "Total number of incidents returned by scans.",
		},
	)

	DiagnosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Total number of window diagnoses by severity.",
		},
		[]string{"severity"},
	)

	SkippedSensorMapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_sensor_maps_total",
			Help:      "Score points whose sensor map could not be decoded, counted per scan.",
		},
	)

	SkippedDevicesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_devices_total",
			Help:      "Devices left out of fleet-wide scans because their series was rejected.",
		},
	)

	TruncatedTablesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_tables_total",
			Help:      "Snapshot tables cut off at limits.maxRowsPerTable, by kind.",
		},
		[]string{"kind"},
	)

	SnapshotRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Records in the currently loaded snapshot by kind.",
		},
		[]string{"kind"},
	)

	SnapshotLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_loads_total",
			Help:      "Snapshot load attempts by source and result.",
		},
		[]string{"source", "result"},
	)

	NotificationsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Incident notifications by result (published, suppressed, failed).",
		},
		[]string{"result"},
	)
)
