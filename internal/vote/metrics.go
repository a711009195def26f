package vote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilvote_vote_submissions_total",
		Help: "Vote submissions by outcome.",
	}, []string{"outcome"})

	merkleRebuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veilvote_merkle_rebuild_seconds",
		Help:    "Time spent recomputing a poll's merkle root inside the submission transaction.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	unsignedReceiptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilvote_unsigned_receipts_total",
		Help: "Accepted votes that returned an unsigned receipt because signing failed.",
	})
)
