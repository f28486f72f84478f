// Package metrics holds the control plane's Prometheus collectors. Grounded
// on the pack's own metrics.go pattern: a package-level registry with
// MustRegister in init, one file of vars. Scoped here to the control
// plane's own surface rather than an LLM/tool pipeline's.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the control plane's Prometheus registry, served at /metrics
// (internal/api.MetricsHandler) instead of the default global registry so
// process-level Go runtime collectors can be added deliberately.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		JobsTotal, JobDuration,
		PlanRunsTotal, PlanRunDuration, PlanStepsTotal,
		NodesOnline, DispatchErrorsTotal,
	)
}

// JobsTotal counts jobs by terminal status.
var JobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "easyrun_jobs_total",
		Help: "Jobs finalized, by terminal status.",
	},
	[]string{"status"},
)

// JobDuration measures wall-clock job execution time.
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "easyrun_job_duration_seconds",
		Help:    "Job execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"},
)

// PlanRunsTotal counts plan runs by terminal status.
var PlanRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "easyrun_plan_runs_total",
		Help: "Plan runs finalized, by terminal status.",
	},
	[]string{"status"},
)

// PlanRunDuration measures wall-clock plan run duration.
var PlanRunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "easyrun_plan_run_duration_seconds",
		Help:    "Plan run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"},
)

// PlanStepsTotal counts individual plan step outcomes.
var PlanStepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "easyrun_plan_steps_total",
		Help: "Plan steps finalized, by outcome.",
	},
	[]string{"status"},
)

// NodesOnline tracks the current count of online agent nodes.
var NodesOnline = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "easyrun_nodes_online",
		Help: "Number of nodes currently online.",
	},
)

// DispatchErrorsTotal counts dispatch failures by error kind.
var DispatchErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "easyrun_dispatch_errors_total",
		Help: "Job dispatch failures, by error kind.",
	},
	[]string{"kind"},
)
