// Package telemetry wires OpenTelemetry exporters and meters plus a
// Prometheus registry for the copy pipeline.
//
// It centralises trace provider setup, records per-stage execution metrics
// (outcome, directive writes and deletes, latency) and exposes counters for
// scraping so operators can see how entries move through each stage.
package telemetry
