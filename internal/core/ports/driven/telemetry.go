package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

// EmbeddingLog queries the append-only embedding telemetry.
// The engine never writes to it.
type EmbeddingLog interface {
	// EmbeddingsInWindow returns all embedding records of the given kind
	// whose timestamps fall inside the window, oldest first.
	EmbeddingsInWindow(ctx context.Context, w domain.Window, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error)

	// CountEmbeddings returns the number of records of the given kind in
	// the window without materialising them.
	CountEmbeddings(ctx context.Context, w domain.Window, kind domain.EmbeddingKind) (int, error)
}

// InteractionLog queries the append-only interaction telemetry.
type InteractionLog interface {
	// InteractionsInWindow returns all interaction records in the window,
	// oldest first.
	InteractionsInWindow(ctx context.Context, w domain.Window) ([]domain.InteractionRecord, error)

	// HighQualityInteractions returns up to limit interactions in the
	// window with a feedback score at or above minScore, newest first.
	// Used by the fine-tuner to select training examples.
	HighQualityInteractions(ctx context.Context, w domain.Window, minScore float64, limit int) ([]domain.InteractionRecord, error)
}

// EvaluationLog queries the append-only offline evaluation results.
type EvaluationLog interface {
	// EvaluationsInWindow returns all evaluation records in the window,
	// oldest first.
	EvaluationsInWindow(ctx context.Context, w domain.Window) ([]domain.EvaluationRecord, error)

	// LatestAccuracyForModel returns the accuracy of the newest
	// evaluation record for the named model version. Used by the
	// validation gate. Returns domain.ErrNotFound when the model has
	// never been evaluated.
	LatestAccuracyForModel(ctx context.Context, modelVersion string) (float64, error)
}

// DocumentStore reads documents and records reindexing results.
// Content is owned externally; only Embedding and LastIndexedAt are
// written here, exclusively by the reindexer.
type DocumentStore interface {
	// StaleDocuments returns up to limit documents whose content changed
	// after their last indexing (or that were never indexed), ordered by
	// id so repeated calls walk a stable sequence.
	StaleDocuments(ctx context.Context, afterID string, limit int) ([]domain.Document, error)

	// UpsertEmbedding overwrites the document's embedding and advances
	// LastIndexedAt. Writing an identical vector is a no-op by effect,
	// which is what makes reindexing idempotent.
	UpsertEmbedding(ctx context.Context, docID string, vector []float32, indexedAt time.Time) error
}

// DriftEventStore persists the audit trail.
// Events and action records are append-only; only an action's status,
// handle, error and resolution time may be updated, and only forward.
type DriftEventStore interface {
	// AppendEvent persists a drift event and its action records.
	AppendEvent(ctx context.Context, event domain.DriftEvent) error

	// EventsSince returns events with timestamps at or after since,
	// in ascending timestamp order. Used for cooldown checks.
	EventsSince(ctx context.Context, since time.Time) ([]domain.DriftEvent, error)

	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]domain.DriftEvent, error)

	// GetAction returns a single action record by id.
	GetAction(ctx context.Context, actionID string) (*domain.ActionRecord, error)

	// UpdateActionStatus transitions an action record. Implementations
	// must reject transitions out of a terminal status.
	UpdateActionStatus(ctx context.Context, actionID string, status domain.ActionStatus, handle, errMsg string, resolvedAt time.Time) error

	// PendingActions returns all action records awaiting approval.
	PendingActions(ctx context.Context) ([]domain.ActionRecord, error)

	// SaveTrainingJob records a submitted fine-tuning job for later polls.
	SaveTrainingJob(ctx context.Context, job domain.TrainingJob) error

	// OpenTrainingJobs returns submitted jobs not yet resolved.
	OpenTrainingJobs(ctx context.Context) ([]domain.TrainingJob, error)

	// ResolveTrainingJob marks a job's lifecycle as finished.
	ResolveTrainingJob(ctx context.Context, handle string) error
}

// ModelVersionStore is the deployed-model registry.
type ModelVersionStore interface {
	// ActiveModel returns the single active model version.
	// Returns domain.ErrNotFound when no model has been registered.
	ActiveModel(ctx context.Context) (*domain.ModelVersion, error)

	// SaveModel registers a model version (inactive).
	SaveModel(ctx context.Context, mv domain.ModelVersion) error

	// PromoteModel atomically deactivates the model named current and
	// activates the model named next, in one compare-and-swap: it fails
	// with domain.ErrNotFound if current is no longer the active model,
	// so two concurrent promotions cannot both win.
	PromoteModel(ctx context.Context, current, next string, deployedAt time.Time) error
}

// SafetyPolicyStore persists the versioned moderation policy.
type SafetyPolicyStore interface {
	// CurrentPolicy returns the newest policy revision.
	// Returns domain.ErrNotFound when no policy exists yet.
	CurrentPolicy(ctx context.Context) (*domain.SafetyPolicy, error)

	// AppendPolicy writes a new policy revision.
	AppendPolicy(ctx context.Context, p domain.SafetyPolicy) error
}

// RunLockStore implements the lease-with-TTL run lock. At most one
// orchestrator run holds a live lease system-wide.
type RunLockStore interface {
	// Acquire takes the lease for holderID. It fails with
	// domain.ErrLockContention when a live lease is held by another
	// holder. A stale lease (older than its TTL) is broken and the
	// previous holder's id is returned so the caller can log the alert.
	Acquire(ctx context.Context, holderID string, ttl time.Duration) (brokenHolder string, err error)

	// Release frees the lease if holderID still owns it.
	Release(ctx context.Context, holderID string) error
}
