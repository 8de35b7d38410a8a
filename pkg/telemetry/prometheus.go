package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for a pipeline process.
type Metrics struct {
	entriesTotal  *prometheus.CounterVec
	entryErrors   *prometheus.CounterVec
	stageOutcomes *prometheus.CounterVec
	fieldsWritten *prometheus.CounterVec
	fieldsDeleted *prometheus.CounterVec
	entryLatency  prometheus.Histogram
	configReloads *prometheus.CounterVec
	stagesActive  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_entries_total",
				Help: "Total number of entries processed by status",
			},
			[]string{"pipeline", "status"},
		),

		entryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_entry_errors_total",
				Help: "Total number of entries that could not be processed",
			},
			[]string{"pipeline", "reason"},
		),

		stageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_stage_outcomes_total",
				Help: "Stage executions by outcome",
			},
			[]string{"stage", "outcome"},
		),

		fieldsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_fields_written_total",
				Help: "Destination fields written by directives",
			},
			[]string{"stage"},
		),

		fieldsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_fields_deleted_total",
				Help: "Destination fields deleted because their source was missing",
			},
			[]string{"stage"},
		),

		entryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kvcopy_entry_duration_seconds",
				Help:    "Time spent running an entry through every stage",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvcopy_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		stagesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kvcopy_stages_active",
				Help: "Number of stages in the running pipeline",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.entriesTotal,
		m.entryErrors,
		m.stageOutcomes,
		m.fieldsWritten,
		m.fieldsDeleted,
		m.entryLatency,
		m.configReloads,
		m.stagesActive,
	)

	return m
}

// RecordEntry records a processed entry.
func (m *Metrics) RecordEntry(pipeline, status string, duration time.Duration) {
	m.entriesTotal.WithLabelValues(pipeline, status).Inc()
	m.entryLatency.Observe(duration.Seconds())
}

// RecordEntryError records an entry that failed to decode or process.
func (m *Metrics) RecordEntryError(pipeline, reason string) {
	m.entryErrors.WithLabelValues(pipeline, reason).Inc()
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage, outcome string, written, deleted int) {
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
	if written > 0 {
		m.fieldsWritten.WithLabelValues(stage).Add(float64(written))
	}
	if deleted > 0 {
		m.fieldsDeleted.WithLabelValues(stage).Add(float64(deleted))
	}
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// SetActiveStages updates the active stage gauge.
func (m *Metrics) SetActiveStages(n int) {
	m.stagesActive.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
