package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// FineTuneResult summarises a fine-tune submission.
type FineTuneResult struct {
	// Status is "submitted" or "failed".
	Status string

	// JobHandle is the training service's job identifier.
	JobHandle string

	// Examples counts the training examples submitted.
	Examples int
}

// PollOutcome describes what happened to one open training job during
// a poll step.
type PollOutcome struct {
	// Handle is the training job handle.
	Handle string

	// Outcome is one of "running", "promoted", "gate_failed", "job_failed".
	Outcome string

	// Detail carries the gate comparison or failure message.
	Detail string
}

// FineTuner selects high-quality interactions, submits an asynchronous
// fine-tuning job, and on later runs polls the job and applies the
// validation gate. SubmitJob blocks only for acknowledgment; the
// training itself is never awaited in-process.
type FineTuner struct {
	interactions driven.InteractionLog
	evals        driven.EvaluationLog
	models       driven.ModelVersionStore
	events       driven.DriftEventStore
	training     driven.TrainingService // optional
	cfg          domain.EngineConfig
}

// NewFineTuner creates the executor. training may be nil, in which
// case submissions fail cleanly and polls are no-ops.
func NewFineTuner(
	interactions driven.InteractionLog,
	evals driven.EvaluationLog,
	models driven.ModelVersionStore,
	events driven.DriftEventStore,
	training driven.TrainingService,
	cfg domain.EngineConfig,
) *FineTuner {
	return &FineTuner{
		interactions: interactions,
		evals:        evals,
		models:       models,
		events:       events,
		training:     training,
		cfg:          cfg,
	}
}

// Submit builds the training set from the lookback window and submits
// a job, recording it for later polls under the given action id.
func (f *FineTuner) Submit(ctx context.Context, lookback domain.Window, actionID string) (FineTuneResult, error) {
	if f.training == nil {
		return FineTuneResult{Status: "failed"},
			fmt.Errorf("%w: training service not configured", domain.ErrExternalService)
	}

	records, err := f.interactions.HighQualityInteractions(
		ctx, lookback, f.cfg.QualityThreshold, f.cfg.FinetuneLimit)
	if err != nil {
		return FineTuneResult{Status: "failed"}, fmt.Errorf("select training interactions: %w", err)
	}
	if len(records) == 0 {
		return FineTuneResult{Status: "failed"},
			fmt.Errorf("%w: no interactions at or above quality %.1f in lookback",
				domain.ErrDataInsufficient, f.cfg.QualityThreshold)
	}

	examples := make([]driven.TrainingExample, len(records))
	for i, r := range records {
		examples[i] = driven.TrainingExample{
			Messages: []driven.TrainingMessage{
				{Role: "user", Content: r.QueryText},
				{Role: "assistant", Content: r.ResponseText},
			},
		}
	}

	var handle string
	err = withRetry(ctx, "submit training job", func(ctx context.Context) error {
		var submitErr error
		handle, submitErr = f.training.SubmitJob(ctx, examples)
		return submitErr
	})
	if err != nil {
		return FineTuneResult{Status: "failed"},
			fmt.Errorf("%w: submit after retries: %v", domain.ErrExternalService, err)
	}

	job := domain.TrainingJob{
		Handle:      handle,
		ActionID:    actionID,
		SubmittedAt: time.Now().UTC(),
	}
	if err := f.events.SaveTrainingJob(ctx, job); err != nil {
		return FineTuneResult{Status: "failed"}, fmt.Errorf("record training job: %w", err)
	}

	logger.Info("fine-tune job submitted: handle=%s examples=%d", handle, len(examples))
	return FineTuneResult{Status: "submitted", JobHandle: handle, Examples: len(examples)}, nil
}

// Poll checks every open training job once. Completed jobs go through
// the validation gate; the gate is mandatory, an unevaluated model is
// never promoted. Polling is idempotent: a job is resolved exactly
// once and re-polling resolved jobs is a no-op.
func (f *FineTuner) Poll(ctx context.Context) ([]PollOutcome, error) {
	if f.training == nil {
		return nil, nil
	}

	jobs, err := f.events.OpenTrainingJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open training jobs: %w", err)
	}

	var outcomes []PollOutcome
	for _, job := range jobs {
		outcome := f.pollOne(ctx, job)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (f *FineTuner) pollOne(ctx context.Context, job domain.TrainingJob) PollOutcome {
	status, err := f.training.PollJob(ctx, job.Handle)
	if err != nil {
		// Transient poll failure: leave the job open for the next run.
		logger.Warn("poll job %s failed: %v", job.Handle, err)
		return PollOutcome{Handle: job.Handle, Outcome: "running", Detail: err.Error()}
	}

	switch status.State {
	case driven.JobStateRunning:
		return PollOutcome{Handle: job.Handle, Outcome: "running"}

	case driven.JobStateFailed:
		f.resolve(ctx, job, domain.ActionStatusFailed, "", status.Error)
		return PollOutcome{Handle: job.Handle, Outcome: "job_failed", Detail: status.Error}

	case driven.JobStateSucceeded:
		return f.gate(ctx, job, status)

	default:
		logger.Warn("poll job %s: unknown state %q", job.Handle, status.State)
		return PollOutcome{Handle: job.Handle, Outcome: "running"}
	}
}

// gate compares the new model's evaluation accuracy against the active
// model and promotes only when the new model is not worse by more than
// the configured tolerance.
func (f *FineTuner) gate(ctx context.Context, job domain.TrainingJob, status driven.JobStatus) PollOutcome {
	newAccuracy := status.Accuracy
	if newAccuracy < 0 {
		acc, err := f.evals.LatestAccuracyForModel(ctx, status.ArtifactRef)
		if errors.Is(err, domain.ErrNotFound) {
			// Not evaluated yet: hold the job open until the standing
			// evaluation has scored the artifact.
			return PollOutcome{Handle: job.Handle, Outcome: "running",
				Detail: "awaiting evaluation of " + status.ArtifactRef}
		}
		if err != nil {
			logger.Warn("gate: evaluation lookup for %s failed: %v", status.ArtifactRef, err)
			return PollOutcome{Handle: job.Handle, Outcome: "running", Detail: err.Error()}
		}
		newAccuracy = acc
	}

	active, err := f.models.ActiveModel(ctx)
	if err != nil {
		detail := fmt.Sprintf("gate: active model lookup failed: %v", err)
		logger.Warn("%s", detail)
		return PollOutcome{Handle: job.Handle, Outcome: "running", Detail: detail}
	}

	if newAccuracy < active.Accuracy-f.cfg.PromotionTolerance {
		detail := fmt.Sprintf("%v: new %.4f vs active %.4f (tolerance %.4f)",
			domain.ErrValidationGate, newAccuracy, active.Accuracy, f.cfg.PromotionTolerance)
		f.resolve(ctx, job, domain.ActionStatusFailed, status.ArtifactRef, detail)
		return PollOutcome{Handle: job.Handle, Outcome: "gate_failed", Detail: detail}
	}

	now := time.Now().UTC()
	if err := f.models.SaveModel(ctx, domain.ModelVersion{
		VersionName:  status.ArtifactRef,
		TrainingDate: now,
		Accuracy:     newAccuracy,
	}); err != nil {
		logger.Warn("gate: save model %s failed: %v", status.ArtifactRef, err)
		return PollOutcome{Handle: job.Handle, Outcome: "running", Detail: err.Error()}
	}
	if err := f.models.PromoteModel(ctx, active.VersionName, status.ArtifactRef, now); err != nil {
		// CAS lost: someone else promoted meanwhile. Leave the job for
		// the next poll to re-evaluate against the new active model.
		logger.Warn("gate: promotion CAS for %s failed: %v", status.ArtifactRef, err)
		return PollOutcome{Handle: job.Handle, Outcome: "running", Detail: err.Error()}
	}

	f.resolve(ctx, job, domain.ActionStatusSucceeded, status.ArtifactRef, "")
	detail := fmt.Sprintf("promoted %s (accuracy %.4f)", status.ArtifactRef, newAccuracy)
	logger.Info("%s", detail)
	return PollOutcome{Handle: job.Handle, Outcome: "promoted", Detail: detail}
}

// resolve closes the job and moves its action record to a terminal
// status. Store failures are logged, not propagated: the poll step
// must never abort a run.
func (f *FineTuner) resolve(ctx context.Context, job domain.TrainingJob, status domain.ActionStatus, handle, errMsg string) {
	now := time.Now().UTC()
	if job.ActionID != "" {
		if err := f.events.UpdateActionStatus(ctx, job.ActionID, status, handle, errMsg, now); err != nil {
			logger.Warn("update action %s failed: %v", job.ActionID, err)
		}
	}
	if err := f.events.ResolveTrainingJob(ctx, job.Handle); err != nil {
		logger.Warn("resolve training job %s failed: %v", job.Handle, err)
	}
}
