// Package domain defines the core types shared by the directive engine, the
// match filter and the pipeline runner.
//
// This package has ZERO external dependencies outside the Go standard library.
// It holds the record flowing through a pipeline (Entry), the configuration of
// a single stage (StageConfig) and the error classifications used across
// layers. The dependency direction is always:
//
//	engine, pipeline, config → domain (CORRECT)
//	domain → engine, pipeline, config (FORBIDDEN)
package domain
