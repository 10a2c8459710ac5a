// Package sqlite provides a unified SQLite-based implementation of the
// driven store ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation
// that requires no CGO, enabling easy cross-compilation. It implements
// every store interface through a single database connection:
//
//   - EmbeddingLog, InteractionLog, EvaluationLog: read-only telemetry
//     written by the serving and evaluation systems
//   - DocumentStore: stale-document queries and embedding upserts
//   - DriftEventStore: the append-only audit trail plus training jobs
//   - ModelVersionStore: the deployed-model registry with atomic promotion
//   - SafetyPolicyStore: the versioned moderation policy
//   - RunLockStore: the lease-with-TTL run lock
//
// # Schema
//
// The database schema is managed through versioned migrations stored in
// the migrations/ directory. Each migration is a pair of .up.sql and
// .down.sql files.
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking
// provided by SQLite in WAL mode; the run lock additionally guards
// whole engine runs across processes.
package sqlite
