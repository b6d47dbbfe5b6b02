// Package metrics holds the Prometheus collectors of the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agingwms"

type Metrics struct {
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec
	StepOutcomes   *prometheus.CounterVec
	ActiveSteps    *prometheus.GaugeVec
	ActiveJobs     prometheus.Gauge
	Telemetry      prometheus.Counter
	Dropped        prometheus.Counter
	Conflicts      prometheus.Counter
	CacheLookups   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by the gateway, by command and result code.",
		}, []string{"command", "code"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Gateway command latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		StepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_outcomes_total",
			Help:      "Finished steps by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActiveSteps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_steps",
			Help:      "Step loops currently executing.",
		}, []string{"kind"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Job chains currently dispatched.",
		}),
		Telemetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Telemetry events published by step loops.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic concurrency conflicts seen by update-then-save.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_cache_lookups_total",
			Help:      "Status cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.CommandLatency, m.StepOutcomes, m.ActiveSteps,
			m.ActiveJobs, m.Telemetry, m.Dropped, m.Conflicts, m.CacheLookups)
	}
	return m
}

func (m *Metrics) CacheHit()     { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss()    { m.CacheLookups.WithLabelValues("miss").Inc() }
func (m *Metrics) EventDropped() { m.Dropped.Inc() }
func (m *Metrics) Conflict()     { m.Conflicts.Inc() }

// ObserveCommand records one gateway command.
func (m *Metrics) ObserveCommand(command, code string, d time.Duration) {
	if code == "" {
		code = "OK"
	}
	m.Commands.WithLabelValues(command, code).Inc()
	m.CommandLatency.WithLabelValues(command).Observe(d.Seconds())
}

// StepStarted marks a step loop as active and returns the release func.
func (m *Metrics) StepStarted(kind string) func() {
	g := m.ActiveSteps.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

func (m *Metrics) StepFinished(kind, outcome string) {
	m.StepOutcomes.WithLabelValues(kind, outcome).Inc()
}
