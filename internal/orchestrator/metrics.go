package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/rsi/internal/record"
)

// Metrics holds the pipeline's Prometheus collectors. Each instance owns
// its registry, so several orchestrators can coexist in one process.
//
// Metrics:
//   - rsi_stage_runs_total{stage,result}
//   - rsi_stage_duration_seconds{stage}
//   - rsi_items_total{stage,outcome}
//   - rsi_queue_depth{area}
//   - rsi_cycles_total{result}
type Metrics struct {
	registry *prometheus.Registry

	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Items         *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
	Cycles        *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsi_stage_runs_total",
				Help: "Stage runs by result",
			},
			[]string{"stage", "result"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsi_stage_duration_seconds",
				Help:    "Stage run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~160s
			},
			[]string{"stage"},
		),
		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsi_items_total",
				Help: "Items processed by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rsi_queue_depth",
				Help: "Entries per queue area",
			},
			[]string{"area"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsi_cycles_total",
				Help: "Full cycles by result",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(m.StageRuns, m.StageDuration, m.Items, m.QueueDepth, m.Cycles)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one stage result.
func (m *Metrics) ObserveStage(r record.StageResult) {
	m.StageRuns.WithLabelValues(r.Stage, result(r.OK)).Inc()
	m.StageDuration.WithLabelValues(r.Stage).Observe(float64(r.DurationMS) / 1000)
	for outcome, n := range r.Counts {
		m.Items.WithLabelValues(r.Stage, outcome).Add(float64(n))
	}
}

// ObserveCycle records one full cycle.
func (m *Metrics) ObserveCycle(c record.CycleSummary) {
	switch {
	case c.Halted:
		m.Cycles.WithLabelValues("halted").Inc()
	default:
		m.Cycles.WithLabelValues(result(c.OK)).Inc()
	}
}

// SetDepths records the current queue depths.
func (m *Metrics) SetDepths(depths map[string]int) {
	for area, n := range depths {
		m.QueueDepth.WithLabelValues(area).Set(float64(n))
	}
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
