package domain

import "time"

// Signal identifies one of the three drift monitors.
type Signal string

// Monitored drift signals.
const (
	// SignalEmbedding is distribution shift in logged embedding vectors.
	SignalEmbedding Signal = "embedding"

	// SignalBehavior is shift in refusal/toxicity/error rates and
	// response-length distribution.
	SignalBehavior Signal = "behavior"

	// SignalAccuracy is degradation in evaluation accuracy or user feedback.
	SignalAccuracy Signal = "accuracy"
)

// Window is a half-open time range [Start, End) measured backward from a
// run's reference time. Baseline and current windows of one run are
// disjoint and contiguous.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ComparisonWindows derives the baseline and current windows for a run.
// Current covers the currentDays before now; baseline covers the
// baselineDays before that. The two never overlap.
func ComparisonWindows(now time.Time, baselineDays, currentDays int) (baseline, current Window) {
	current = Window{
		Start: now.AddDate(0, 0, -currentDays),
		End:   now,
	}
	baseline = Window{
		Start: current.Start.AddDate(0, 0, -baselineDays),
		End:   current.Start,
	}
	return baseline, current
}

// MonitorResult is the outcome of one drift monitor for one run.
// Score is always in [0, 1]: 0 means no detectable drift, 1 maximal drift.
type MonitorResult struct {
	// Signal names the monitor that produced the result.
	Signal Signal

	// Score is the bounded drift score.
	Score float64

	// Skipped is set when the monitor had too little data and reported 0.
	Skipped bool

	// Err holds a monitor-level failure message, empty on success.
	// Failures never propagate past the monitor boundary.
	Err string

	// Details retains raw and normalised sub-metric values for audit.
	Details map[string]any
}

// ActionType identifies a corrective action.
type ActionType string

// Corrective actions the decision engine can select.
const (
	// ActionReindex regenerates document embeddings.
	ActionReindex ActionType = "reindex"

	// ActionFineTune submits a fine-tuning job on high-quality interactions.
	ActionFineTune ActionType = "fine_tune"

	// ActionUpdateSafetyFilters tightens the moderation policy.
	ActionUpdateSafetyFilters ActionType = "update_safety_filters"
)

// IsValid returns true if the action type is recognised.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionReindex, ActionFineTune, ActionUpdateSafetyFilters:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (t ActionType) String() string {
	return string(t)
}

// ActionStatus is the lifecycle state of an action record.
// Transitions are monotonic: a failed record is never resurrected,
// a retry creates a new record.
type ActionStatus string

// Action lifecycle states.
const (
	// ActionStatusDryRun marks an intent recorded but never executed.
	ActionStatusDryRun ActionStatus = "dry_run"

	// ActionStatusPendingApproval marks an intent awaiting external confirmation.
	ActionStatusPendingApproval ActionStatus = "pending_approval"

	// ActionStatusDispatched marks an action handed to its executor.
	ActionStatusDispatched ActionStatus = "dispatched"

	// ActionStatusSucceeded marks a completed action.
	ActionStatusSucceeded ActionStatus = "succeeded"

	// ActionStatusFailed marks an action that exhausted its retries.
	ActionStatusFailed ActionStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusDryRun || s == ActionStatusSucceeded || s == ActionStatusFailed
}

// CanTransitionTo reports whether moving to next preserves monotonicity.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case ActionStatusPendingApproval:
		return next == ActionStatusDispatched || next == ActionStatusFailed
	case ActionStatusDispatched:
		return next == ActionStatusSucceeded || next == ActionStatusFailed
	default:
		return false
	}
}

// ActionIntent is a proposed, not-yet-executed corrective action
// produced by the decision engine.
type ActionIntent struct {
	// Type is the corrective action to take.
	Type ActionType

	// Reason is a short human-readable trigger description.
	Reason string

	// TriggerScore is the signal score that crossed its threshold.
	TriggerScore float64
}

// ActionRecord is the audit row for one action intent and its execution.
type ActionRecord struct {
	// ID is the unique identifier for the record.
	ID string

	// EventID links to the owning DriftEvent.
	EventID string

	// Type is the corrective action taken.
	Type ActionType

	// Status is the current lifecycle state.
	Status ActionStatus

	// Handle is an executor-specific reference: a training job id,
	// a reindex cursor, or a safety policy version.
	Handle string

	// Reason records why the action was selected.
	Reason string

	// Error holds the failure message for failed actions.
	Error string

	// CreatedAt is when the intent was recorded.
	CreatedAt time.Time

	// ResolvedAt is when the action reached a terminal state.
	ResolvedAt time.Time
}

// DriftEvent is the append-only audit record for one orchestrator run
// in which at least one monitor produced a non-trivial result.
type DriftEvent struct {
	// ID is the unique identifier for the event.
	ID string

	// RunID identifies the orchestrator run that produced the event.
	RunID string

	// Timestamp is when the run evaluated drift.
	Timestamp time.Time

	// EmbeddingScore, BehaviorScore and AccuracyScore are the per-monitor
	// drift scores, each in [0, 1].
	EmbeddingScore float64
	BehaviorScore  float64
	AccuracyScore  float64

	// OverallScore is max(embedding, behavior, accuracy).
	OverallScore float64

	// Details merges monitor details, suppression notes and gate outcomes.
	Details map[string]any

	// Actions are the action records created by this run.
	Actions []ActionRecord
}

// Trivial reports whether the event carries no signal worth persisting:
// every monitor scored zero without being skipped and no action was taken.
func (e DriftEvent) Trivial() bool {
	if len(e.Actions) > 0 {
		return false
	}
	if e.EmbeddingScore > 0 || e.BehaviorScore > 0 || e.AccuracyScore > 0 {
		return false
	}
	for _, key := range []string{"embedding", "behavior", "accuracy"} {
		if d, ok := e.Details[key].(map[string]any); ok {
			if skipped, _ := d["skipped"].(bool); skipped {
				return false
			}
			if errMsg, _ := d["error"].(string); errMsg != "" {
				return false
			}
		}
	}
	return true
}

// RunLease is the run-level lock. At most one orchestrator run holds a
// live lease system-wide; a lease older than its TTL is stale.
type RunLease struct {
	// HolderID identifies the run holding the lease.
	HolderID string

	// AcquiredAt is when the lease was taken.
	AcquiredAt time.Time

	// TTL bounds how long the lease is considered live.
	TTL time.Duration
}

// Stale reports whether the lease has outlived its TTL at time now.
func (l RunLease) Stale(now time.Time) bool {
	return now.Sub(l.AcquiredAt) > l.TTL
}

// TrainingJob tracks an asynchronous fine-tuning job across runs.
type TrainingJob struct {
	// Handle is the training service's job identifier.
	Handle string

	// ActionID links back to the fine_tune action record.
	ActionID string

	// ModelVersion names the resulting model once the job completes.
	ModelVersion string

	// SubmittedAt is when the job was accepted by the training service.
	SubmittedAt time.Time

	// Resolved is set once the poll step has finished the job's lifecycle
	// (promoted, gate-failed, or job failure).
	Resolved bool
}
