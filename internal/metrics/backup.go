package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backhaul_backup_runs_total",
			Help: "Completed backup runs by terminal status",
		},
		[]string{"status"},
	)

	backupFilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backhaul_files_uploaded_total",
			Help: "Files uploaded across all backup runs",
		},
	)

	backupBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backhaul_bytes_uploaded_total",
			Help: "Bytes uploaded across all backup runs",
		},
	)

	backupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backhaul_backup_duration_seconds",
			Help:    "Wall-clock duration of backup runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
)

// RecordRun registers one finished backup run.
func RecordRun(status string, filesUploaded int, bytesUploaded int64, duration time.Duration) {
	backupRunsTotal.WithLabelValues(status).Inc()
	backupFilesUploaded.Add(float64(filesUploaded))
	backupBytesUploaded.Add(float64(bytesUploaded))
	backupDuration.Observe(duration.Seconds())
}
