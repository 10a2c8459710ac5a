package domain

import "time"

// EmbeddingKind identifies what a logged embedding vector represents.
type EmbeddingKind string

// Recognised embedding kinds.
const (
	// EmbeddingKindQuery is a user query embedding.
	EmbeddingKindQuery EmbeddingKind = "query"

	// EmbeddingKindDocument is a source document embedding.
	EmbeddingKindDocument EmbeddingKind = "document"

	// EmbeddingKindResponse is a model response embedding.
	EmbeddingKindResponse EmbeddingKind = "response"
)

// IsValid returns true if the embedding kind is recognised.
func (k EmbeddingKind) IsValid() bool {
	switch k {
	case EmbeddingKindQuery, EmbeddingKindDocument, EmbeddingKindResponse:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (k EmbeddingKind) String() string {
	return string(k)
}

// EmbeddingRecord is one logged embedding vector.
// Records are immutable once written; the engine only reads them.
type EmbeddingRecord struct {
	// ID is the unique identifier for the record.
	ID string

	// Timestamp is when the embedding was produced.
	Timestamp time.Time

	// Kind distinguishes query, document and response embeddings.
	Kind EmbeddingKind

	// Vector is the fixed-length embedding.
	Vector []float32

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any
}

// InteractionRecord is one logged model interaction.
// Written by the serving system, read by the monitors.
type InteractionRecord struct {
	// ID is the unique identifier for the record.
	ID string

	// Timestamp is when the interaction occurred.
	Timestamp time.Time

	// QueryText is the user's query.
	QueryText string

	// ResponseText is the model's response.
	ResponseText string

	// RefusalFlag marks responses classified as refusals.
	RefusalFlag bool

	// ToxicityFlag marks responses flagged by moderation.
	ToxicityFlag bool

	// ErrorFlag marks interactions that ended in a serving error.
	ErrorFlag bool

	// FeedbackScore is the user rating in [0, 5]; nil when no rating was given.
	FeedbackScore *float64

	// LatencyMS is the serving latency in milliseconds.
	LatencyMS int64

	// ModelVersion names the model that produced the response.
	ModelVersion string

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any
}

// EvaluationRecord is one offline evaluation result.
// Written by an external evaluation job; read-only here.
type EvaluationRecord struct {
	// ID is the unique identifier for the record.
	ID string

	// Timestamp is when the evaluation ran.
	Timestamp time.Time

	// EvalSetName identifies the standing evaluation set.
	EvalSetName string

	// ModelVersion names the evaluated model.
	ModelVersion string

	// Accuracy, Precision, Recall and F1 are in [0, 1].
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Document is an indexed source document.
// Content is owned externally; Embedding and LastIndexedAt are
// exclusively mutated by the reindexer.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Content is the document text.
	Content string

	// Embedding is the current vector representation, nil when never indexed.
	Embedding []float32

	// UpdatedAt is when the content last changed (externally owned).
	UpdatedAt time.Time

	// LastIndexedAt is when the embedding was last regenerated.
	// Zero when the document has never been indexed.
	LastIndexedAt time.Time
}

// NeedsReindex reports whether the document's embedding is stale.
func (d Document) NeedsReindex() bool {
	return d.LastIndexedAt.IsZero() || d.UpdatedAt.After(d.LastIndexedAt)
}

// ModelVersion is one row of the deployed-model registry.
// Exactly one row has IsActive set; promotion is an atomic swap
// performed only after the validation gate passes.
type ModelVersion struct {
	// VersionName is the unique model identifier.
	VersionName string

	// DeployedAt is when the model was promoted to active.
	DeployedAt time.Time

	// TrainingDate is when the model finished training.
	TrainingDate time.Time

	// Accuracy is the model's evaluation-set accuracy at promotion time.
	Accuracy float64

	// IsActive marks the currently serving model.
	IsActive bool
}

// SafetyPolicy is one append-only version of the moderation policy.
// The newest row is the current policy.
type SafetyPolicy struct {
	// PolicyVersion is the unique identifier for this policy revision.
	PolicyVersion string

	// ModerationThreshold is the classifier score above which content
	// is blocked, in [0, 1]. Lower is stricter.
	ModerationThreshold float64

	// BlockedTerms are additional always-blocked terms.
	BlockedTerms []string

	// CreatedAt is when this revision was written.
	CreatedAt time.Time
}

// SafetyDelta describes a change to the safety policy.
// Applying a delta and then its inverse restores the prior policy.
type SafetyDelta struct {
	// ThresholdDelta is added to the moderation threshold.
	// Negative values tighten the policy.
	ThresholdDelta float64

	// AddTerms are appended to the blocked-term list.
	AddTerms []string

	// RemoveTerms are removed from the blocked-term list.
	RemoveTerms []string
}

// Inverse returns the delta that undoes this one.
func (d SafetyDelta) Inverse() SafetyDelta {
	return SafetyDelta{
		ThresholdDelta: -d.ThresholdDelta,
		AddTerms:       append([]string(nil), d.RemoveTerms...),
		RemoveTerms:    append([]string(nil), d.AddTerms...),
	}
}

// Apply returns a copy of the policy with the delta applied.
// The threshold is clamped to [0, 1].
func (p SafetyPolicy) Apply(delta SafetyDelta) SafetyPolicy {
	next := SafetyPolicy{
		ModerationThreshold: p.ModerationThreshold + delta.ThresholdDelta,
	}
	if next.ModerationThreshold < 0 {
		next.ModerationThreshold = 0
	}
	if next.ModerationThreshold > 1 {
		next.ModerationThreshold = 1
	}

	removed := make(map[string]bool, len(delta.RemoveTerms))
	for _, t := range delta.RemoveTerms {
		removed[t] = true
	}
	for _, t := range p.BlockedTerms {
		if !removed[t] {
			next.BlockedTerms = append(next.BlockedTerms, t)
		}
	}
	existing := make(map[string]bool, len(next.BlockedTerms))
	for _, t := range next.BlockedTerms {
		existing[t] = true
	}
	for _, t := range delta.AddTerms {
		if !existing[t] {
			next.BlockedTerms = append(next.BlockedTerms, t)
			existing[t] = true
		}
	}
	return next
}
