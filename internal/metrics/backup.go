package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_runs_total",
			Help: "Total number of backup runs by terminal status",
		},
		[]string{"status"},
	)

	backupFilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_files_uploaded_total",
			Help: "Total number of files uploaded across all backup runs",
		},
	)

	backupBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_bytes_uploaded_total",
			Help: "Total bytes uploaded across all backup runs",
		},
	)

	backupRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_run_duration_seconds",
			Help:    "Backup run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

// ObserveRun records the outcome of one backup run.
func ObserveRun(status string, duration time.Duration, filesUploaded int, bytesUploaded int64) {
	backupRunsTotal.WithLabelValues(status).Inc()
	backupFilesUploaded.Add(float64(filesUploaded))
	backupBytesUploaded.Add(float64(bytesUploaded))
	backupRunDuration.Observe(duration.Seconds())
}
