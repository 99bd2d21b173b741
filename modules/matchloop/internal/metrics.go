package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posematch_loop_evaluations_total",
		Help: "Similarity engine calls made by the live match loop",
	})

	republished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posematch_loop_republished_total",
		Help: "Match results republished to observers",
	})

	throttledTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posematch_loop_throttled_ticks_total",
		Help: "Ticks skipped by the evaluation interval guard",
	})

	slotDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posematch_loop_slot_drops_total",
		Help: "Live snapshots overwritten before evaluation",
	})

	overallScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "posematch_loop_overall_score",
		Help:    "Distribution of overall similarity scores",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "posematch_loop_evaluation_duration_seconds",
		Help:    "Time spent in a single similarity evaluation",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
	})

	loopState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posematch_loop_state",
		Help: "Live match loop state (0=idle, 1=capturing, 2=testing)",
	})
)
