package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BuildsQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e4e_builds_queued_total",
		Help: "Total number of build jobs accepted into the queue",
	})
	BuildsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e4e_builds_completed_total",
		Help: "Total number of build jobs that reached Complete",
	})
	BuildsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e4e_builds_failed_total",
		Help: "Total number of build jobs that reached Failed",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "e4e_queue_depth",
		Help: "Number of jobs waiting in the queue (excludes the running job)",
	})
	BuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "e4e_build_duration_seconds",
		Help:    "Wall-clock duration of build jobs",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})
	SyncSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "e4e_sync_skipped_total",
		Help: "Builds that skipped the tree sync because the tree was fresh",
	})
)

func init() {
	prometheus.MustRegister(
		BuildsQueuedTotal,
		BuildsCompletedTotal,
		BuildsFailedTotal,
		QueueDepth,
		BuildDuration,
		SyncSkippedTotal,
	)
}
