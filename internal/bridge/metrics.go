package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// processesStarted counts solver subprocesses spawned.
	processesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "bridge",
		Name:      "processes_started_total",
		Help:      "Solver subprocesses started",
	})

	// spawnFailures counts solver launches that failed before running.
	spawnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "bridge",
		Name:      "spawn_failures_total",
		Help:      "Solver subprocesses that could not be started",
	})

	// processExits counts reaped solver subprocesses.
	// Labels: reason (exited, timeout, cancelled)
	processExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "bridge",
		Name:      "process_exits_total",
		Help:      "Solver subprocesses reaped, by exit reason",
	}, []string{"reason"})

	// linesTooLong counts stdout lines discarded for exceeding the size cap.
	linesTooLong = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "bridge",
		Name:      "lines_too_long_total",
		Help:      "Solver stdout lines discarded for exceeding the maximum length",
	})
)
