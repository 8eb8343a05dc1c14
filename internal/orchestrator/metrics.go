package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("circuitloop.orchestrator")

var (
	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "circuitloop",
		Name:      "attempts_total",
		Help:      "Convergence attempts started.",
	})

	strategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuitloop",
		Name:      "strategy_selected_total",
		Help:      "Repair strategies selected, by strategy and whether the selection was an escalation.",
	}, []string{"strategy", "escalated"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuitloop",
		Name:      "runs_total",
		Help:      "Completed convergence runs by outcome.",
	}, []string{"outcome"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "circuitloop",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of one convergence attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	compileFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "circuitloop",
		Name:      "compile_failures_total",
		Help:      "Attempts aborted by a compiler failure, by kind.",
	}, []string{"kind"})

	readinessScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "circuitloop",
		Name:      "readiness_score",
		Help:      "Readiness score reported in final summaries.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
)
