// Package pipeline runs entries through an ordered list of copy stages.
//
// The runner owns everything the directive engine does not:
// filtering entries with each stage's match criteria, tracing and metrics,
// streaming entries in and out, and swapping stages on configuration reload.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/kvcopy/pkg/domain"
	"github.com/polisai/kvcopy/pkg/engine"
	"github.com/polisai/kvcopy/pkg/engine/runtime"
	"github.com/polisai/kvcopy/pkg/match"
	"github.com/polisai/kvcopy/pkg/telemetry"
)

// Stage pairs a stage handler with its compiled match criteria.
type Stage struct {
	Handler runtime.StageHandler
	Matcher *match.Matcher
}

// Runner executes stages in order against each entry.
type Runner struct {
	id      string
	logger  *slog.Logger
	metrics *telemetry.Metrics
	stages  atomic.Pointer[[]Stage]
}

// Config holds dependencies for creating a Runner.
type Config struct {
	PipelineID string
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// NewRunner creates a runner with no stages. Call Load before processing.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.PipelineID
	if id == "" {
		id = "kvcopy"
	}

	r := &Runner{
		id:      id,
		logger:  logger.With("pipeline_id", id),
		metrics: cfg.Metrics,
	}
	empty := []Stage{}
	r.stages.Store(&empty)
	return r
}

// BuildStages constructs and validates one engine per stage configuration,
// failing fast on the first invalid stage.
func BuildStages(configs []domain.StageConfig, logger *slog.Logger) ([]Stage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stages := make([]Stage, 0, len(configs))
	for _, cfg := range configs {
		e := engine.New(cfg, engine.WithLogger(logger))
		if err := e.Validate(); err != nil {
			return nil, &domain.StageError{StageID: e.ID(), Err: err}
		}

		matcher, err := match.Compile(e.Match())
		if err != nil {
			return nil, &domain.StageError{StageID: e.ID(), Err: fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)}
		}
		stages = append(stages, Stage{Handler: e, Matcher: matcher})
	}
	return stages, nil
}

// Load validates every stage and installs them atomically. On failure the
// previously installed stages stay active.
func (r *Runner) Load(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: pipeline has no stages", domain.ErrConfigInvalid)
	}
	seen := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		if s.Handler == nil {
			return fmt.Errorf("%w: stage handler is nil", domain.ErrConfigInvalid)
		}
		id := s.Handler.ID()
		if _, dup := seen[id]; dup {
			return &domain.StageError{StageID: id, Err: fmt.Errorf("%w: duplicate stage id", domain.ErrConfigInvalid)}
		}
		seen[id] = struct{}{}
		if err := s.Handler.Validate(); err != nil {
			return &domain.StageError{StageID: id, Err: err}
		}
	}

	installed := make([]Stage, len(stages))
	copy(installed, stages)
	r.stages.Store(&installed)

	if r.metrics != nil {
		r.metrics.SetActiveStages(len(installed))
	}
	r.logger.Info("pipeline stages loaded", "stages", len(installed))
	return nil
}

// Reload builds stages from configuration and installs them, keeping the
// running stages when anything is invalid.
func (r *Runner) Reload(configs []domain.StageConfig) error {
	stages, err := BuildStages(configs, r.logger)
	if err == nil {
		err = r.Load(stages)
	}
	if err != nil {
		r.logger.Error("pipeline reload rejected; keeping previous stages", "error", err)
		if r.metrics != nil {
			r.metrics.RecordConfigReload("validation_failed")
		}
		return fmt.Errorf("reload pipeline %s: %w", r.id, err)
	}
	if r.metrics != nil {
		r.metrics.RecordConfigReload("success")
	}
	return nil
}

// Stages returns the currently installed stages.
func (r *Runner) Stages() []Stage {
	return *r.stages.Load()
}

// Stage returns the installed stage with the given id.
func (r *Runner) Stage(id string) (Stage, error) {
	for _, s := range r.Stages() {
		if s.Handler.ID() == id {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("%w: %s", domain.ErrStageNotFound, id)
}

// Process runs entry through every stage whose criteria match it. The entry
// is mutated in place and returned.
func (r *Runner) Process(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	if entry == nil {
		return nil, domain.ErrMalformedEntry
	}

	stages := r.Stages()
	if len(stages) == 0 {
		return entry, fmt.Errorf("%w: pipeline has no stages", domain.ErrConfigInvalid)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("pipeline.id", r.id),
			attribute.Int("pipeline.stages", len(stages)),
		),
	)
	defer span.End()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return entry, err
		}
		if err := r.runStage(ctx, stage, entry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return entry, err
		}
	}
	return entry, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, entry domain.Entry) error {
	id := stage.Handler.ID()
	span := trace.SpanFromContext(ctx)

	start := time.Now()
	var (
		result runtime.StageResult
		err    error
	)
	if stage.Matcher.Matches(entry) {
		result, err = stage.Handler.Execute(ctx, entry)
	} else {
		result = runtime.Filtered()
	}
	duration := time.Since(start)
	result = result.WithDefaults()

	telemetry.RecordStageResult(span, id, result)
	telemetry.RecordStageMetrics(ctx, telemetry.StageMetrics{
		PipelineID: r.id,
		StageID:    id,
		Outcome:    result.Outcome,
		Duration:   duration,
		Written:    result.Written,
		Deleted:    result.Deleted,
	})
	if r.metrics != nil {
		r.metrics.RecordStage(id, string(result.Outcome), result.Written, result.Deleted)
	}

	if err != nil {
		r.logger.Error("stage failed", "stage_id", id, "error", err)
		return err
	}
	return nil
}
