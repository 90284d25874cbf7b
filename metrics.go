package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages handed to a transport, partitioned by channel and ledger outcome
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of messages handed to a transport",
		},
		[]string{"channel", "outcome"},
	)

	// Finished execution passes partitioned by job kind and resulting state
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_total",
			Help: "Total number of executed dispatch jobs",
		},
		[]string{"kind", "state"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepDueJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_sweep_due_jobs",
			Help: "Number of due jobs found by the last sweep",
		},
	)
)
