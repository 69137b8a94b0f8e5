package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tuning-loop counters, gauges, and histograms, partitioned by target where
// it matters.

var (
	// Tuner session
	IterationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "iterations_started_total",
		Help:      "Total tuning iterations armed",
	}, []string{"target"})

	IterationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "iterations_rejected_total",
		Help:      "Total iteration requests rejected (busy or terminated)",
	}, []string{"target", "reason"})

	IterationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "iterations_completed_total",
		Help:      "Total iterations evaluated end to end",
	}, []string{"target"})

	IterationsDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "iterations_degraded_total",
		Help:      "Total iterations flagged degraded by a gateway failure",
	}, []string{"target"})

	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "session_state",
		Help:      "Excitation state machine state (0=IDLE, 1=STABILIZING, 2=COLLECTING)",
	}, []string{"target"})

	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autotune",
		Subsystem: "tuner",
		Name:      "evaluation_duration_seconds",
		Help:      "Window drain + cost + optimizer step duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"target"})

	// Optimizer
	LatestCost = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "optimizer",
		Name:      "latest_cost",
		Help:      "Cost measured for the most recent iteration",
	}, []string{"target"})

	BestCost = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "optimizer",
		Name:      "best_cost",
		Help:      "Best cost seen so far",
	}, []string{"target"})

	ProposedGain = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "optimizer",
		Name:      "proposed_gain",
		Help:      "Most recently proposed gain values",
	}, []string{"target", "gain"})

	OptimizerEvaluations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "optimizer",
		Name:      "evaluations",
		Help:      "Cost evaluations consumed by the optimizer",
	}, []string{"target"})

	// Telemetry intake / sample buffer
	SamplesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "telemetry",
		Name:      "samples_recorded_total",
		Help:      "Total samples appended to an open collection window",
	}, []string{"stream"})

	SamplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "telemetry",
		Name:      "samples_dropped_total",
		Help:      "Total samples dropped (no open window, out of order, malformed)",
	}, []string{"stream", "reason"})

	WindowsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "telemetry",
		Name:      "windows_opened_total",
		Help:      "Total collection windows opened",
	}, []string{"target"})

	WindowsDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "telemetry",
		Name:      "windows_drained_total",
		Help:      "Total collection windows drained for evaluation",
	}, []string{"target"})

	// Gain gateway
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Total parameter service and step toggle calls",
	}, []string{"op", "status"})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autotune",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Gateway call duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})

	GatewayRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "gateway",
		Name:      "rate_limit_waits_total",
		Help:      "Total times gateway calls waited for the rate limiter",
	}, []string{"op"})

	GatewayBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "autotune",
		Subsystem: "gateway",
		Name:      "breaker_state",
		Help:      "Gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	StepTogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "gateway",
		Name:      "step_toggles_total",
		Help:      "Total step excitation toggles",
	}, []string{"status"})

	// History store
	HistoryInsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autotune",
		Subsystem: "history",
		Name:      "insert_failures_total",
		Help:      "Total iteration records that failed to persist",
	})
)
