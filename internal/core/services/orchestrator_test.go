package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

type orchestratorFixture struct {
	orch        *Orchestrator
	events      *mockEventStore
	lock        *mockLockStore
	training    *mockTraining
	embedder    *mockEmbedder
	docs        *mockDocumentStore
	safetyStore *mockSafetyStore
	metrics     *mockMetrics
	now         time.Time
}

type orchestratorSeed struct {
	cfg          domain.EngineConfig
	embeddings   func(w domain.Window) []domain.EmbeddingRecord
	interactions func(w domain.Window) []domain.InteractionRecord
	evaluations  func(w domain.Window) []domain.EvaluationRecord
}

func newOrchestratorFixture(t *testing.T, seed orchestratorSeed) *orchestratorFixture {
	t.Helper()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	f := &orchestratorFixture{
		events:      newMockEventStore(),
		lock:        &mockLockStore{},
		training:    &mockTraining{handle: "ftjob-1"},
		embedder:    &mockEmbedder{dims: 4},
		docs:        &mockDocumentStore{docs: staleDocs(5)},
		safetyStore: &mockSafetyStore{},
		metrics:     &mockMetrics{},
		now:         now,
	}

	embeddingLog := &mockEmbeddingLog{byWindow: func(w domain.Window, _ domain.EmbeddingKind) []domain.EmbeddingRecord {
		if seed.embeddings == nil {
			return nil
		}
		return seed.embeddings(w)
	}}
	interactionLog := &mockInteractionLog{
		byWindow: func(w domain.Window) []domain.InteractionRecord {
			if seed.interactions == nil {
				return nil
			}
			return seed.interactions(w)
		},
		highQuality: trainingInteractions(3, 5.0),
	}
	evaluationLog := &mockEvaluationLog{byWindow: func(w domain.Window) []domain.EvaluationRecord {
		if seed.evaluations == nil {
			return nil
		}
		return seed.evaluations(w)
	}}

	models := newMockModelStore(domain.ModelVersion{VersionName: "m-1", Accuracy: 0.9})
	tuner := NewFineTuner(interactionLog, evaluationLog, models, f.events, f.training, seed.cfg)
	execs := NewExecutors(
		NewReindexer(f.docs, f.embedder),
		tuner,
		NewSafetyFilterUpdater(f.safetyStore),
		seed.cfg,
	)
	monitors := NewMonitors(
		NewEmbeddingMonitor(embeddingLog, domain.EmbeddingKindQuery, seed.cfg),
		NewBehaviorMonitor(interactionLog, nil, seed.cfg),
		NewAccuracyMonitor(evaluationLog, interactionLog, seed.cfg),
	)

	f.orch = NewOrchestrator(seed.cfg, monitors, NewDecisionEngine(seed.cfg), execs, tuner, f.events, f.lock, f.metrics)
	f.orch.now = func() time.Time { return f.now }
	return f
}

func accuracyDropSeed(t *testing.T, cfg domain.EngineConfig) orchestratorSeed {
	t.Helper()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	baseline, _ := domain.ComparisonWindows(now, cfg.BaselineDays, cfg.CurrentDays)
	return orchestratorSeed{
		cfg: cfg,
		evaluations: func(w domain.Window) []domain.EvaluationRecord {
			if w.Start.Equal(baseline.Start) {
				return evaluations(4, 0.90)
			}
			return evaluations(2, 0.70)
		},
		interactions: func(domain.Window) []domain.InteractionRecord {
			return interactions(50, 0, 0, "all fine")
		},
	}
}

func TestRunQuietWindowsPersistNoEventButRecordSkips(t *testing.T) {
	// Every monitor lacks data: all three are skipped, which is itself
	// worth auditing, so an event is still written.
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, orchestratorSeed{cfg: cfg})

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Event)
	assert.Zero(t, report.Event.OverallScore)
	assert.Empty(t, report.Event.Actions)

	for _, key := range []string{"embedding", "behavior", "accuracy"} {
		d, ok := report.Event.Details[key].(map[string]any)
		require.True(t, ok, "details for %s", key)
		skipped, _ := d["skipped"].(bool)
		assert.True(t, skipped, "%s should be skipped", key)
	}
	assert.Equal(t, 1, f.lock.releases, "lock released after the run")
}

func TestRunTrulyTrivialRunPersistsNothing(t *testing.T) {
	// All monitors report real zeros: nothing to audit.
	cfg := domain.DefaultEngineConfig()
	cfg.MinSamples = 10

	sample := grid(30, 0)
	f := newOrchestratorFixture(t, orchestratorSeed{
		cfg: cfg,
		embeddings: func(w domain.Window) []domain.EmbeddingRecord {
			records := make([]domain.EmbeddingRecord, len(sample))
			for i, v := range sample {
				records[i] = domain.EmbeddingRecord{ID: fmt.Sprintf("e-%d", i), Kind: domain.EmbeddingKindQuery, Vector: v}
			}
			return records
		},
		interactions: func(domain.Window) []domain.InteractionRecord {
			return interactions(50, 0, 0, "steady state")
		},
		evaluations: func(domain.Window) []domain.EvaluationRecord {
			return evaluations(3, 0.9)
		},
	})

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Event)
	assert.Empty(t, f.events.events)
	assert.Empty(t, f.metrics.actions)
	require.Len(t, f.metrics.runs, 1, "gauges publish even on trivial runs")
	assert.Zero(t, f.metrics.runs[0].OverallScore)
}

func TestRunDryRunRecordsIntentsWithoutExecuting(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.DryRun = true
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Event)
	require.Len(t, report.Event.Actions, 1)
	assert.Equal(t, domain.ActionFineTune, report.Event.Actions[0].Type)
	assert.Equal(t, domain.ActionStatusDryRun, report.Event.Actions[0].Status)

	// Nothing external moved.
	assert.Zero(t, f.training.submits)
	assert.Zero(t, f.docs.upserts)
	assert.Empty(t, f.safetyStore.policies)
	assert.Empty(t, f.metrics.actions)
}

func TestRunRequireApprovalParksActions(t *testing.T) {
	cfg := domain.DefaultEngineConfig() // RequireApproval on by default
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Event)
	require.Len(t, report.Event.Actions, 1)
	assert.Equal(t, domain.ActionStatusPendingApproval, report.Event.Actions[0].Status)
	assert.Zero(t, f.training.submits)

	pending, err := f.events.PendingActions(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunAutoModeDispatchesFineTune(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.RequireApproval = false
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Event)
	require.Len(t, report.Event.Actions, 1)

	action := report.Event.Actions[0]
	assert.Equal(t, domain.ActionFineTune, action.Type)
	assert.Equal(t, domain.ActionStatusDispatched, action.Status, "fine-tune resolves on a later poll")
	assert.Equal(t, "ftjob-1", action.Handle)
	assert.Equal(t, 1, f.training.submits)
	assert.Equal(t, []domain.ActionType{domain.ActionFineTune}, f.metrics.actions)

	jobs, err := f.events.OpenTrainingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, action.ID, jobs[0].ActionID)
}

func TestRunFailedDispatchIsNotCounted(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.RequireApproval = false
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))
	f.training.subErr = fmt.Errorf("training backend down")

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Event)
	require.Len(t, report.Event.Actions, 1)
	assert.Equal(t, domain.ActionStatusFailed, report.Event.Actions[0].Status)
	assert.Empty(t, f.metrics.actions, "only executed dispatches count")
}

func TestRunLockContentionAbortsRun(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))
	f.lock.contention = true

	_, err := f.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockContention)
	assert.Empty(t, f.events.events, "no work behind a contended lock")
}

func TestRunInvalidConfigFailsBeforeLocking(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.BaselineDays = 0
	f := newOrchestratorFixture(t, orchestratorSeed{cfg: cfg})

	_, err := f.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, f.lock.acquires, "validation precedes the lock")
}

func TestRunBrokenLeaseIsSurfaced(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))
	f.lock.broken = "run-dead-beef"

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-dead-beef", report.BrokenLease)
	require.NotNil(t, report.Event)
	assert.Equal(t, "run-dead-beef", report.Event.Details["broke_stale_lease"])
}

func TestRunMonitorFailureIsIsolated(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	seed := accuracyDropSeed(t, cfg)
	f := newOrchestratorFixture(t, seed)

	// Replace the embedding monitor with one whose log always fails.
	failing := &mockEmbeddingLog{err: fmt.Errorf("telemetry store down")}
	f.orch.monitors[0] = NewEmbeddingMonitor(failing, domain.EmbeddingKindQuery, cfg)

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err, "one broken monitor must not abort the run")
	require.NotNil(t, report.Event)

	embDetails, ok := report.Event.Details["embedding"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, embDetails["error"], "telemetry store down")
	assert.Zero(t, report.Event.EmbeddingScore)

	// The accuracy breach still produced its intent.
	require.Len(t, report.Event.Actions, 1)
	assert.Equal(t, domain.ActionFineTune, report.Event.Actions[0].Type)
}

func TestRunPollResolvesOpenJobsFirst(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, orchestratorSeed{cfg: cfg})

	require.NoError(t, f.events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-old", ActionID: "a-old"}))
	f.events.actions["a-old"] = &domain.ActionRecord{ID: "a-old", Type: domain.ActionFineTune, Status: domain.ActionStatusDispatched}
	f.training.statuses = map[string]driven.JobStatus{
		"ftjob-old": {State: driven.JobStateFailed, Error: "exploded"},
	}

	report, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.JobsResolved)

	action, err := f.events.GetAction(context.Background(), "a-old")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusFailed, action.Status)
}

func TestRunPublishesGauges(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, accuracyDropSeed(t, cfg))

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.metrics.runs, 1)

	m := f.metrics.runs[0]
	assert.InDelta(t, 1.0, m.AccuracyScore, 1e-9)
	assert.InDelta(t, 1.0, m.OverallScore, 1e-9)
	assert.InDelta(t, 0.70, m.ModelAccuracy, 1e-9)
	assert.InDelta(t, 0.0, m.RefusalRate, 1e-9)
}

func TestPollTrainingJobsStandalone(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	f := newOrchestratorFixture(t, orchestratorSeed{cfg: cfg})

	require.NoError(t, f.events.SaveTrainingJob(context.Background(), domain.TrainingJob{Handle: "ftjob-1"}))
	f.training.statuses = map[string]driven.JobStatus{
		"ftjob-1": {State: driven.JobStateSucceeded, ArtifactRef: "m-2", Accuracy: 0.95},
	}

	resolved, err := f.orch.PollTrainingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
}
