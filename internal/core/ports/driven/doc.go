// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the engine to function:
//
//   - EmbeddingLog / InteractionLog / EvaluationLog: read-only telemetry queries
//   - DriftEventStore: append-only audit trail and cooldown history
//   - ModelVersionStore: deployed-model registry with atomic promotion
//   - RunLockStore: lease-with-TTL run lock
//   - ConfigStore: engine configuration
//
// # Optional Interfaces
//
// These can be nil - the affected actions degrade to failed/skipped status
// without aborting a run:
//
//   - EmbeddingService: regenerates document embeddings (reindex action)
//   - ModerationClassifier: toxicity backfill for unflagged interactions
//   - TrainingService: asynchronous fine-tuning jobs
//   - MetricsPublisher: scrape-endpoint gauges and counters
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
