package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polisai/kvcopy/pkg/engine/runtime"
)

const meterName = "kvcopy.pipeline"

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	stageExecutionCounter metric.Int64Counter
	fieldWriteCounter     metric.Int64Counter
	fieldDeleteCounter    metric.Int64Counter
	stageLatencyHistogram metric.Float64Histogram
)

// StageMetrics captures the fields needed to record stage telemetry metrics.
type StageMetrics struct {
	PipelineID string
	StageID    string
	Outcome    runtime.StageOutcome
	Duration   time.Duration
	Written    int
	Deleted    int
}

// RecordStageMetrics emits counters and histograms that describe stage execution behaviour.
func RecordStageMetrics(ctx context.Context, m StageMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("pipeline.id", m.PipelineID),
		attribute.String("stage.id", m.StageID),
		attribute.String("stage.outcome", string(m.Outcome)),
	)

	stageExecutionCounter.Add(ctx, 1, attrs)

	if m.Duration > 0 {
		stageLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Written > 0 {
		fieldWriteCounter.Add(ctx, int64(m.Written), attrs)
	}
	if m.Deleted > 0 {
		fieldDeleteCounter.Add(ctx, int64(m.Deleted), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)

		stageExecutionCounter, metricsInitErr = meter.Int64Counter(
			"kvcopy.stage.executions_total",
			metric.WithDescription("Stage executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fieldWriteCounter, metricsInitErr = meter.Int64Counter(
			"kvcopy.stage.fields_written_total",
			metric.WithDescription("Destination fields written by directives"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		fieldDeleteCounter, metricsInitErr = meter.Int64Counter(
			"kvcopy.stage.fields_deleted_total",
			metric.WithDescription("Destination fields removed because their source was missing"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stageLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"kvcopy.stage.duration_ms",
			metric.WithDescription("Observed stage execution latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
