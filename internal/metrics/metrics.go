// Package metrics provides Prometheus metrics for the relation engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeAborted   = "aborted"
)

// Metrics holds all Prometheus metrics of one engine.
type Metrics struct {
	// Structural mutations by op and outcome
	MutationsTotal *prometheus.CounterVec

	// Rule rejections by error code
	RejectionsTotal *prometheus.CounterVec

	// Assignment changes by op and outcome
	AssignmentsTotal *prometheus.CounterVec

	// Commit latency by op
	CommitDuration *prometheus.HistogramVec

	// Rows moved by shift plans
	ShiftedNodes prometheus.Histogram

	// Attach checks by decision
	ChecksTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg registers
// nowhere, which keeps tests and short-lived CLI runs free of global state.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomrel_mutations_total",
				Help: "Total number of structural mutations",
			},
			[]string{"op", "outcome"},
		),
		RejectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomrel_rejections_total",
				Help: "Total number of rejected requests by error code",
			},
			[]string{"code"},
		),
		AssignmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomrel_assignments_total",
				Help: "Total number of assignment changes",
			},
			[]string{"op", "outcome"},
		),
		CommitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bomrel_commit_duration_seconds",
				Help:    "Duration of committed requests in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
		ShiftedNodes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bomrel_shifted_nodes",
				Help:    "Number of existing nodes moved by one shift plan",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		ChecksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomrel_attach_checks_total",
				Help: "Total number of read-only attach checks",
			},
			[]string{"decision"},
		),
	}
}

// Nop returns metrics that are not registered anywhere.
func Nop() *Metrics {
	return New(nil)
}
