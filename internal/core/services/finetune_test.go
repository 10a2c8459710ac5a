package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

func fineTuneLookback() domain.Window {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return domain.Window{Start: now.AddDate(0, 0, -37), End: now}
}

func trainingInteractions(n int, score float64) []domain.InteractionRecord {
	records := make([]domain.InteractionRecord, n)
	for i := range records {
		s := score
		records[i] = domain.InteractionRecord{
			QueryText:     "what is drift",
			ResponseText:  "a distribution shift",
			FeedbackScore: &s,
		}
	}
	return records
}

func newTestFineTuner(
	interactionsLog *mockInteractionLog,
	evals *mockEvaluationLog,
	models *mockModelStore,
	events *mockEventStore,
	training *mockTraining,
) *FineTuner {
	if evals == nil {
		evals = &mockEvaluationLog{}
	}
	// Avoid wrapping a nil *mockTraining in a non-nil interface value.
	var trainingService driven.TrainingService
	if training != nil {
		trainingService = training
	}
	return NewFineTuner(interactionsLog, evals, models, events, trainingService, domain.DefaultEngineConfig())
}

func TestFineTuneSubmitBuildsChatExamples(t *testing.T) {
	events := newMockEventStore()
	training := &mockTraining{handle: "ftjob-7"}
	interactionsLog := &mockInteractionLog{highQuality: trainingInteractions(5, 4.5)}
	tuner := newTestFineTuner(interactionsLog, nil, nil, events, training)

	result, err := tuner.Submit(context.Background(), fineTuneLookback(), "action-1")
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.Status)
	assert.Equal(t, "ftjob-7", result.JobHandle)
	assert.Equal(t, 5, result.Examples)

	require.Len(t, training.examples, 5)
	require.Len(t, training.examples[0].Messages, 2)
	assert.Equal(t, "user", training.examples[0].Messages[0].Role)
	assert.Equal(t, "what is drift", training.examples[0].Messages[0].Content)
	assert.Equal(t, "assistant", training.examples[0].Messages[1].Role)

	jobs, err := events.OpenTrainingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ftjob-7", jobs[0].Handle)
	assert.Equal(t, "action-1", jobs[0].ActionID)
}

func TestFineTuneSubmitFiltersLowQuality(t *testing.T) {
	events := newMockEventStore()
	training := &mockTraining{}
	// Every rating sits below the quality threshold.
	interactionsLog := &mockInteractionLog{highQuality: trainingInteractions(5, 2.0)}
	tuner := newTestFineTuner(interactionsLog, nil, nil, events, training)

	_, err := tuner.Submit(context.Background(), fineTuneLookback(), "action-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataInsufficient)
	assert.Zero(t, training.submits)
}

func TestFineTuneSubmitWithoutTrainingService(t *testing.T) {
	tuner := newTestFineTuner(&mockInteractionLog{}, nil, nil, newMockEventStore(), nil)
	_, err := tuner.Submit(context.Background(), fineTuneLookback(), "action-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestPollRunningJobStaysOpen(t *testing.T) {
	events := newMockEventStore()
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateRunning},
	}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1", ActionID: "a-1"}))
	tuner := newTestFineTuner(&mockInteractionLog{}, nil, newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.9}), events, training)

	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "running", outcomes[0].Outcome)

	jobs, _ := events.OpenTrainingJobs(context.Background())
	assert.Len(t, jobs, 1, "a running job stays open")
}

func TestPollGatePromotesBetterModel(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.85})
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: 0.88},
	}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1", ActionID: "a-1"}))
	events.actions["a-1"] = &domain.ActionRecord{ID: "a-1", Type: domain.ActionFineTune, Status: domain.ActionStatusDispatched}

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "promoted", outcomes[0].Outcome)

	active, err := models.ActiveModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-2", active.VersionName)

	action, err := events.GetAction(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusSucceeded, action.Status)

	jobs, _ := events.OpenTrainingJobs(context.Background())
	assert.Empty(t, jobs)
}

func TestPollGateRejectsWorseModel(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.90})
	// 0.80 is below active minus the 0.02 tolerance.
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: 0.80},
	}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1", ActionID: "a-1"}))
	events.actions["a-1"] = &domain.ActionRecord{ID: "a-1", Type: domain.ActionFineTune, Status: domain.ActionStatusDispatched}

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "gate_failed", outcomes[0].Outcome)

	// The active model is untouched and the action records the failure.
	active, err := models.ActiveModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-1", active.VersionName)

	action, err := events.GetAction(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusFailed, action.Status)
	assert.Contains(t, action.Error, "validation gate")
}

func TestPollGateWithinToleranceStillPromotes(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.90})
	// 0.89 is worse but inside the 0.02 tolerance.
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: 0.89},
	}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1"}))

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "promoted", outcomes[0].Outcome)
}

func TestPollGateFallsBackToEvaluationLog(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.85})
	// The training service reports no accuracy with the finished job.
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: -1},
	}}
	evals := &mockEvaluationLog{latest: map[string]float64{"m-2": 0.90}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1"}))

	tuner := newTestFineTuner(&mockInteractionLog{}, evals, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "promoted", outcomes[0].Outcome)
}

func TestPollGateHoldsUnevaluatedModel(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.85})
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: -1},
	}}
	// No evaluation for m-2 exists yet.
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1"}))

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", outcomes[0].Outcome)

	// Never promote an unevaluated artifact.
	active, err := models.ActiveModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m-1", active.VersionName)

	jobs, _ := events.OpenTrainingJobs(context.Background())
	assert.Len(t, jobs, 1)
}

func TestPollFailedJobResolvesAction(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.85})
	training := &mockTraining{statuses: map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateFailed, Error: "exploded"},
	}}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1", ActionID: "a-1"}))
	events.actions["a-1"] = &domain.ActionRecord{ID: "a-1", Type: domain.ActionFineTune, Status: domain.ActionStatusDispatched}

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job_failed", outcomes[0].Outcome)

	action, err := events.GetAction(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusFailed, action.Status)
	assert.Equal(t, "exploded", action.Error)
}

func TestPollTransientErrorLeavesJobOpen(t *testing.T) {
	events := newMockEventStore()
	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.85})
	training := &mockTraining{pollErr: context.DeadlineExceeded}
	require.NoError(t, events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1"}))

	tuner := newTestFineTuner(&mockInteractionLog{}, nil, models, events, training)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", outcomes[0].Outcome)

	jobs, _ := events.OpenTrainingJobs(context.Background())
	assert.Len(t, jobs, 1)
}

func TestPollWithoutTrainingServiceIsNoOp(t *testing.T) {
	tuner := newTestFineTuner(&mockInteractionLog{}, nil, nil, newMockEventStore(), nil)
	outcomes, err := tuner.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
