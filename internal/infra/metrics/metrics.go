// Package metrics exposes Prometheus counters for the wizard engine.
//
// Every method is safe on a nil *Metrics, so components accept an optional
// collector without guarding each call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "setupwiz"

// Metrics holds all collectors registered by the engine.
type Metrics struct {
	gatherer prometheus.Gatherer

	Transitions     *prometheus.CounterVec
	GateRejections  *prometheus.CounterVec
	VersionsSaved   prometheus.Counter
	VersionsSkipped prometheus.Counter
	Checkpoints     *prometheus.CounterVec
	Restores        *prometheus.CounterVec
	ResumeDecisions *prometheus.CounterVec
	AuthorityCalls  *prometheus.HistogramVec
	Operations      *prometheus.CounterVec
	InstallPhase    *prometheus.GaugeVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Step transitions by kind (next, previous, goto) and target step",
		}, []string{"kind", "step"}),
		GateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Gate rejections by step and failure kind",
		}, []string{"step", "kind"}),
		VersionsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_saved_total",
			Help:      "Versions written to the authority",
		}),
		VersionsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_skipped_total",
			Help:      "Version saves skipped because profiles and config were empty",
		}),
		Checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints created by stage",
		}, []string{"stage"}),
		Restores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restores by kind (undo, version, checkpoint) and result",
		}, []string{"kind", "result"}),
		ResumeDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resume_decisions_total",
			Help:      "Boot-time resume outcomes (fresh, degraded, resumed, started_over)",
		}, []string{"decision"}),
		AuthorityCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authority_call_seconds",
			Help:      "Authority call latency by method and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operation records reaching a terminal status",
		}, []string{"type", "status"}),
		InstallPhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "install_phase",
			Help:      "1 for the current installation phase, 0 otherwise",
		}, []string{"phase"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(kind, step string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, step).Inc()
}

func (m *Metrics) GateRejected(step, kind string) {
	if m == nil {
		return
	}
	m.GateRejections.WithLabelValues(step, kind).Inc()
}

func (m *Metrics) VersionSaved() {
	if m == nil {
		return
	}
	m.VersionsSaved.Inc()
}

func (m *Metrics) VersionSkipped() {
	if m == nil {
		return
	}
	m.VersionsSkipped.Inc()
}

func (m *Metrics) CheckpointCreated(stage string) {
	if m == nil {
		return
	}
	m.Checkpoints.WithLabelValues(stage).Inc()
}

func (m *Metrics) Restore(kind string, err error) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(kind, status(err)).Inc()
}

func (m *Metrics) ResumeDecision(decision string) {
	if m == nil {
		return
	}
	m.ResumeDecisions.WithLabelValues(decision).Inc()
}

// ObserveAuthority records the latency of one authority call.
func (m *Metrics) ObserveAuthority(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.AuthorityCalls.WithLabelValues(method, status(err)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) OperationFinished(opType, st string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(opType, st).Inc()
}

// SetInstallPhase marks phase as the only active phase.
func (m *Metrics) SetInstallPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.InstallPhase.WithLabelValues(p).Set(v)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
