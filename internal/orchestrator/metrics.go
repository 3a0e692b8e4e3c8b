package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsStarted counts runs whose solver was spawned.
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "runs_started_total",
		Help:      "Runs whose solver process was spawned",
	})

	// runsFinished counts persisted runs by final status.
	// Labels: status
	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "runs_finished_total",
		Help:      "Runs finalized, by final status",
	}, []string{"status"})

	// activeRuns tracks runs currently in the session registry.
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "active_runs",
		Help:      "Runs currently live",
	})

	// runDuration observes wall-clock time from spawn to exit.
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of solver runs",
		Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600},
	})

	// validationAccuracy observes the mean accuracy score of validated runs.
	validationAccuracy = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "validation_accuracy",
		Help:      "Mean accuracy score of validated final answers",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// malformedLines counts protocol lines that were discarded.
	malformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "malformed_lines_total",
		Help:      "Solver stdout lines discarded as malformed",
	})

	// persistFailures counts records that could not be saved.
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "orchestrator",
		Name:      "persist_failures_total",
		Help:      "Run records that failed to persist",
	})
)
