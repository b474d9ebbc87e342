package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsAffected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Subsystem: "retention",
		Name:      "rows_total",
		Help:      "Rows archived or deleted per retention job.",
	}, []string{"job"})

	jobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Subsystem: "retention",
		Name:      "errors_total",
		Help:      "Failed retention job runs.",
	}, []string{"job"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "herald",
		Subsystem: "retention",
		Name:      "job_duration_seconds",
		Help:      "Duration of one retention job run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
)
