package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDataInsufficient indicates a monitor window holds too few records
	// to produce a statistically meaningful score. The monitor reports
	// score 0 with a skipped flag; the run continues.
	ErrDataInsufficient = errors.New("insufficient data in window")

	// ErrExternalService indicates an embedding, moderation or training call
	// exhausted its retries. The owning action is marked failed and becomes
	// eligible for retry on the next scheduled run.
	ErrExternalService = errors.New("external service unavailable")

	// ErrConfiguration indicates missing or invalid configuration at startup.
	// This is the only error (besides lock contention) that reaches the
	// process exit code.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrValidationGate indicates a freshly trained model failed the
	// post-training accuracy comparison and was not promoted.
	ErrValidationGate = errors.New("validation gate failed")

	// ErrLockContention indicates another run holds the lease.
	// The current run exits without doing work.
	ErrLockContention = errors.New("run lock held by another instance")

	// ErrActionNotPending indicates an approval was attempted on an action
	// that is not in the pending_approval state.
	ErrActionNotPending = errors.New("action is not pending approval")
)
