// Package metrics is a prometheus-backed turbotask.StatsRecorder, with a
// constructor that takes a Registerer instead of registering package-global
// singletons (a library gets instantiated more than once per process, a
// server does not).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	turbotask "github.com/turbopack-go/turbotask"
)

// Recorder implements turbotask.StatsRecorder, counting task executions and
// reschedules, broken out by outcome ("done" or "rescheduled").
type Recorder struct {
	executionsTotal  *prometheus.CounterVec
	reschedulesTotal prometheus.Counter
}

// NewRecorder registers its metrics with reg and returns a ready Recorder.
// Use a dedicated *prometheus.Registry (rather than the global default) in
// tests so repeated construction doesn't panic on duplicate registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turbotask_task_executions_total",
			Help: "Total number of task executions completed, by outcome.",
		}, []string{"outcome"}),
		reschedulesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turbotask_task_reschedules_total",
			Help: "Total number of executions that had to reschedule immediately because the task was re-dirtied while running.",
		}),
	}
	reg.MustRegister(r.executionsTotal, r.reschedulesTotal)
	return r
}

// RecordExecution implements turbotask.StatsRecorder.
func (r *Recorder) RecordExecution(task turbotask.TaskId, rescheduled bool) {
	if rescheduled {
		r.reschedulesTotal.Inc()
		r.executionsTotal.WithLabelValues("rescheduled").Inc()
		return
	}
	r.executionsTotal.WithLabelValues("done").Inc()
}

// ScopeGauges is a pair of activation/unfinished gauges that the host sets
// itself. Neither the engine nor this package updates them, and Backend
// exposes no accessor for scope counters.
type ScopeGauges struct {
	Active     prometheus.Gauge
	Unfinished prometheus.Gauge
}

// NewScopeGauges registers a pair of unlabeled gauges for the caller to
// update from whatever polling loop it runs.
func NewScopeGauges(reg prometheus.Registerer) *ScopeGauges {
	g := &ScopeGauges{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turbotask_scope_active_total",
			Help: "Number of scopes with a positive activation ref count.",
		}),
		Unfinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turbotask_scope_unfinished_tasks",
			Help: "Sum of unfinished task counts across polled scopes.",
		}),
	}
	reg.MustRegister(g.Active, g.Unfinished)
	return g
}
