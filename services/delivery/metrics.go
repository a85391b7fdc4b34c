package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashmaster_uploads_total",
		Help: "Config uploads by outcome.",
	}, []string{"outcome"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashmaster_rollbacks_total",
		Help: "Config rollbacks by outcome.",
	}, []string{"outcome"})

	pushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashmaster_push_failures_total",
		Help: "Pack deliveries rejected or unreachable at the device.",
	})

	snapshotsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashmaster_snapshots_created_total",
		Help: "Pre-overwrite snapshots captured.",
	})

	pushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashmaster_push_duration_seconds",
		Help:    "Wall time spent delivering a full pack to a device.",
		Buckets: prometheus.DefBuckets,
	})
)
