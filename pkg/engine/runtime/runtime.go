// Package runtime defines the core contracts shared by the pipeline runner and
// stage handlers, keeping field-mapping logic decoupled from execution
// mechanics.
package runtime

import (
	"context"

	"github.com/polisai/kvcopy/pkg/domain"
)

// StageOutcome captures the classification of a stage execution.
type StageOutcome string

const (
	// OutcomeApplied indicates the stage ran its directives against the entry.
	OutcomeApplied StageOutcome = "applied"
	// OutcomeFiltered indicates the stage's match criteria rejected the entry.
	OutcomeFiltered StageOutcome = "filtered"
	// OutcomeFailure indicates the stage could not run (for example it was never validated).
	OutcomeFailure StageOutcome = "failure"
)

// StageResult bundles the outcome with the per-entry directive counters.
type StageResult struct {
	Outcome StageOutcome
	Written int
	Deleted int
	Skipped int
}

// WithDefaults ensures the outcome is set even when handlers omit it.
func (r StageResult) WithDefaults() StageResult {
	if r.Outcome == "" {
		r.Outcome = OutcomeApplied
	}
	return r
}

// Changed reports whether the stage modified the entry.
func (r StageResult) Changed() bool {
	return r.Written > 0 || r.Deleted > 0
}

// Filtered constructs a result for an entry the stage did not touch.
func Filtered() StageResult {
	return StageResult{Outcome: OutcomeFiltered}
}

// Failure constructs a failure result.
func Failure() StageResult {
	return StageResult{Outcome: OutcomeFailure}
}

// StageHandler is a validated-once, applied-many pipeline stage.
type StageHandler interface {
	ID() string
	Validate() error
	Execute(ctx context.Context, entry domain.Entry) (StageResult, error)
}
