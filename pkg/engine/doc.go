// Package engine implements the directive engine, the pipeline stage that
// copies, renames, transforms or writes literal values into entry fields.
//
// Architecture:
//
// engine.go          - Engine construction, Validate (fail fast) and Apply (per entry)
// runtime/runtime.go - Stage contract shared with the pipeline runner
//
// The engine holds its compiled directive set behind an atomic pointer, so a
// validated engine may apply directives to distinct entries concurrently.
// The stage's match criteria are carried through untouched; filtering entries
// is the pipeline runner's job.
package engine
