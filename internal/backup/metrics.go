package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netbackup_jobs_started_total",
		Help: "Backup jobs started.",
	})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netbackup_jobs_finished_total",
		Help: "Backup jobs finished, by terminal state.",
	}, []string{"state"})

	deviceBackups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netbackup_device_backups_total",
		Help: "Per-device backup results, by result state and platform.",
	}, []string{"state", "platform"})

	deviceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netbackup_device_failures_total",
		Help: "Failed device backups, by error kind.",
	}, []string{"kind"})

	deviceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netbackup_device_backup_duration_seconds",
		Help:    "Time to retrieve and commit one device configuration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"platform"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netbackup_job_duration_seconds",
		Help:    "End-to-end backup job duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
