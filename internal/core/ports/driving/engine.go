package driving

import (
	"context"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

// RunReport summarises one orchestrator run for the caller.
type RunReport struct {
	// RunID identifies the run.
	RunID string

	// Event is the persisted audit record; nil when the run was trivial
	// (every monitor scored zero and nothing happened).
	Event *domain.DriftEvent

	// BrokenLease names the holder of a stale lease the run had to
	// break, empty otherwise. Surfaced as an operational alert.
	BrokenLease string

	// JobsResolved counts training jobs the poll step finished.
	JobsResolved int
}

// DriftEngine is the run-once entrypoint invoked by an external scheduler.
type DriftEngine interface {
	// Run executes one full drift evaluation: acquire lock, run the
	// monitors, decide, dispatch actions, persist the event, publish
	// metrics, release the lock. Only domain.ErrConfiguration and
	// domain.ErrLockContention are returned; every other failure is
	// recorded in the audit trail instead.
	Run(ctx context.Context) (*RunReport, error)

	// PollTrainingJobs runs only the idempotent training-job poll step,
	// including the validation gate for finished jobs.
	PollTrainingJobs(ctx context.Context) (int, error)
}

// ActionApprover confirms pending actions recorded under
// require_approval mode.
type ActionApprover interface {
	// Approve flips a pending_approval action to dispatched and executes
	// it. Fails with domain.ErrActionNotPending if the action is not
	// awaiting approval.
	Approve(ctx context.Context, actionID string) (*domain.ActionRecord, error)

	// Pending lists actions awaiting approval.
	Pending(ctx context.Context) ([]domain.ActionRecord, error)
}

// EventReader exposes the audit trail to operators.
type EventReader interface {
	// Recent returns up to limit drift events, newest first.
	Recent(ctx context.Context, limit int) ([]domain.DriftEvent, error)
}
