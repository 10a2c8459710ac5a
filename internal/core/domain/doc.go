// Package domain defines the core business entities for Driftwatch.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - EmbeddingRecord / InteractionRecord / EvaluationRecord: telemetry read by the monitors
//   - MonitorResult: a bounded drift score with per-metric details
//   - DriftEvent / ActionRecord: the append-only audit trail of a run
//   - ModelVersion: the deployed-model registry with a single active row
//   - SafetyPolicy: versioned moderation policy mutated by deltas
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
