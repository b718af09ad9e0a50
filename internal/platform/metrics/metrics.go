package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsGraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_submissions_graded_total",
			Help: "Submissions that reached a terminal state, by result",
		},
		[]string{"result"},
	)

	CaseReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_case_reports_total",
			Help: "Test case results reported by judges",
		},
		[]string{"outcome"},
	)

	ParticipationRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contest_participation_recomputes_total",
			Help: "Participation aggregate recomputations",
		},
		[]string{"format", "status"},
	)

	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contest_participation_recompute_seconds",
			Help:    "Duration of one participation recomputation",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecomputesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contest_participation_recomputes_coalesced_total",
			Help: "Recompute requests folded into an already pending pass",
		},
	)

	JudgeDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_dispatches_total",
			Help: "Submissions handed to the judge fleet",
		},
		[]string{"priority", "status"},
	)

	JudgeForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judge_forwards_total",
			Help: "Judge jobs taken off the queues by workers, by outcome",
		},
		[]string{"outcome"},
	)
)
