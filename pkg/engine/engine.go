package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/polisai/kvcopy/pkg/directive"
	"github.com/polisai/kvcopy/pkg/domain"
	"github.com/polisai/kvcopy/pkg/engine/runtime"
)

// Engine applies a directive set to entries flowing through a pipeline stage.
type Engine struct {
	id     string
	match  map[string]any
	raw    any
	set    atomic.Pointer[directive.Set]
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for stage diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an engine from a stage configuration. The directives are not
// checked until Validate is called. A stage without an ID gets a random one.
func New(cfg domain.StageConfig, opts ...Option) *Engine {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	match := cfg.Match
	if match == nil {
		match = map[string]any{}
	}

	e := &Engine{
		id:     id,
		match:  match,
		raw:    cfg.Directives,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("stage_id", id)
	return e
}

// ID returns the stage identifier.
func (e *Engine) ID() string { return e.id }

// Match returns the stage's filter criteria exactly as configured.
func (e *Engine) Match() map[string]any { return e.match }

// Validated reports whether Validate has succeeded.
func (e *Engine) Validated() bool { return e.set.Load() != nil }

// Directives returns the compiled directive set, or the zero Set before
// validation.
func (e *Engine) Directives() directive.Set {
	if s := e.set.Load(); s != nil {
		return *s
	}
	return directive.Set{}
}

// Validate checks the configured directives and compiles them. It reports the
// first violation found in directive order.
func (e *Engine) Validate() error {
	set, err := directive.Parse(e.raw)
	if err != nil {
		e.logger.Debug("directive validation failed", "error", err)
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	e.set.Store(&set)
	e.logger.Debug("directives validated",
		"directives", set.Len(),
		"destinations", set.Destinations(),
	)
	return nil
}

// Apply runs the directives against entry in place and returns it. Before a
// successful Validate the entry is returned unchanged.
func (e *Engine) Apply(entry domain.Entry) domain.Entry {
	out, _ := e.apply(entry)
	return out
}

// Execute implements runtime.StageHandler.
func (e *Engine) Execute(_ context.Context, entry domain.Entry) (runtime.StageResult, error) {
	if !e.Validated() {
		return runtime.Failure(), &domain.StageError{StageID: e.id, Err: domain.ErrNotValidated}
	}
	if entry == nil {
		return runtime.Failure(), &domain.StageError{StageID: e.id, Err: domain.ErrMalformedEntry}
	}

	_, stats := e.apply(entry)
	e.logger.Debug("directives applied",
		"written", stats.Written,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)

	return runtime.StageResult{
		Outcome: runtime.OutcomeApplied,
		Written: stats.Written,
		Deleted: stats.Deleted,
		Skipped: stats.Skipped,
	}, nil
}

func (e *Engine) apply(entry domain.Entry) (domain.Entry, directive.Stats) {
	set := e.set.Load()
	if set == nil {
		e.logger.Warn("apply called before validation; entry left unchanged")
		return entry, directive.Stats{}
	}
	return set.Apply(entry)
}
