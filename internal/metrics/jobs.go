package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "count",
		Help:      "Render jobs by status",
	}, []string{"status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time from job start to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"status"})
)

// MoveJobStatus shifts one job between status gauges. An empty from only
// increments to.
func MoveJobStatus(from, to string) {
	if from != "" {
		jobsByStatus.WithLabelValues(from).Dec()
	}
	jobsByStatus.WithLabelValues(to).Inc()
}

// ObserveJobDuration records how long a finished job ran.
func ObserveJobDuration(status string, d time.Duration) {
	jobDuration.WithLabelValues(status).Observe(d.Seconds())
}
