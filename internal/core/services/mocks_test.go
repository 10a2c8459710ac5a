package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// Hand-rolled in-memory fakes for the driven ports. Function fields
// override behaviour per test; nil fields fall back to the in-memory
// default.

type mockEmbeddingLog struct {
	byWindow func(w domain.Window, kind domain.EmbeddingKind) []domain.EmbeddingRecord
	err      error
}

func (m *mockEmbeddingLog) EmbeddingsInWindow(_ context.Context, w domain.Window, kind domain.EmbeddingKind) ([]domain.EmbeddingRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.byWindow == nil {
		return nil, nil
	}
	return m.byWindow(w, kind), nil
}

func (m *mockEmbeddingLog) CountEmbeddings(ctx context.Context, w domain.Window, kind domain.EmbeddingKind) (int, error) {
	records, err := m.EmbeddingsInWindow(ctx, w, kind)
	return len(records), err
}

type mockInteractionLog struct {
	byWindow    func(w domain.Window) []domain.InteractionRecord
	highQuality []domain.InteractionRecord
	err         error
}

func (m *mockInteractionLog) InteractionsInWindow(_ context.Context, w domain.Window) ([]domain.InteractionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.byWindow == nil {
		return nil, nil
	}
	return m.byWindow(w), nil
}

func (m *mockInteractionLog) HighQualityInteractions(_ context.Context, _ domain.Window, minScore float64, limit int) ([]domain.InteractionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.InteractionRecord
	for _, r := range m.highQuality {
		if r.FeedbackScore != nil && *r.FeedbackScore >= minScore && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockEvaluationLog struct {
	byWindow func(w domain.Window) []domain.EvaluationRecord
	latest   map[string]float64
	err      error
}

func (m *mockEvaluationLog) EvaluationsInWindow(_ context.Context, w domain.Window) ([]domain.EvaluationRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.byWindow == nil {
		return nil, nil
	}
	return m.byWindow(w), nil
}

func (m *mockEvaluationLog) LatestAccuracyForModel(_ context.Context, modelVersion string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	acc, ok := m.latest[modelVersion]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return acc, nil
}

type mockDocumentStore struct {
	mu      sync.Mutex
	docs    []domain.Document
	upserts int
	listErr error
	putErr  error
}

func (m *mockDocumentStore) StaleDocuments(_ context.Context, afterID string, limit int) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Document
	for _, d := range m.docs {
		if d.ID <= afterID || !d.NeedsReindex() {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockDocumentStore) UpsertEmbedding(_ context.Context, docID string, vector []float32, indexedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	for i := range m.docs {
		if m.docs[i].ID == docID {
			m.docs[i].Embedding = vector
			m.docs[i].LastIndexedAt = indexedAt
			m.upserts++
			return nil
		}
	}
	return domain.ErrNotFound
}

type mockEventStore struct {
	mu        sync.Mutex
	events    []domain.DriftEvent
	actions   map[string]*domain.ActionRecord
	jobs      map[string]*domain.TrainingJob
	appendErr error
	sinceErr  error
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{
		actions: map[string]*domain.ActionRecord{},
		jobs:    map[string]*domain.TrainingJob{},
	}
}

func (m *mockEventStore) AppendEvent(_ context.Context, event domain.DriftEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.events = append(m.events, event)
	for i := range event.Actions {
		a := event.Actions[i]
		m.actions[a.ID] = &a
	}
	return nil
}

func (m *mockEventStore) EventsSince(_ context.Context, since time.Time) ([]domain.DriftEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sinceErr != nil {
		return nil, m.sinceErr
	}
	var out []domain.DriftEvent
	for _, e := range m.events {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEventStore) RecentEvents(_ context.Context, limit int) ([]domain.DriftEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DriftEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *mockEventStore) GetAction(_ context.Context, actionID string) (*domain.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[actionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockEventStore) UpdateActionStatus(_ context.Context, actionID string, status domain.ActionStatus, handle, errMsg string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[actionID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	if handle != "" {
		a.Handle = handle
	}
	a.Error = errMsg
	a.ResolvedAt = resolvedAt
	return nil
}

func (m *mockEventStore) PendingActions(_ context.Context) ([]domain.ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActionRecord
	for _, a := range m.actions {
		if a.Status == domain.ActionStatusPendingApproval {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockEventStore) SaveTrainingJob(_ context.Context, job domain.TrainingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Handle] = &job
	return nil
}

func (m *mockEventStore) OpenTrainingJobs(_ context.Context) ([]domain.TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrainingJob
	for _, j := range m.jobs {
		if !j.Resolved {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *mockEventStore) ResolveTrainingJob(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[handle]
	if !ok {
		return domain.ErrNotFound
	}
	j.Resolved = true
	return nil
}

type mockModelStore struct {
	mu       sync.Mutex
	models   map[string]*domain.ModelVersion
	activeID string
}

func newMockModelStore(active domain.ModelVersion) *mockModelStore {
	active.IsActive = true
	return &mockModelStore{
		models:   map[string]*domain.ModelVersion{active.VersionName: &active},
		activeID: active.VersionName,
	}
}

func (m *mockModelStore) ActiveModel(_ context.Context) (*domain.ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return nil, domain.ErrNotFound
	}
	copied := *m.models[m.activeID]
	return &copied, nil
}

func (m *mockModelStore) SaveModel(_ context.Context, mv domain.ModelVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv.IsActive = false
	m.models[mv.VersionName] = &mv
	return nil
}

func (m *mockModelStore) PromoteModel(_ context.Context, current, next string, deployedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != current {
		return domain.ErrNotFound
	}
	nextModel, ok := m.models[next]
	if !ok {
		return domain.ErrNotFound
	}
	m.models[current].IsActive = false
	nextModel.IsActive = true
	nextModel.DeployedAt = deployedAt
	m.activeID = next
	return nil
}

type mockSafetyStore struct {
	mu       sync.Mutex
	policies []domain.SafetyPolicy
}

func (m *mockSafetyStore) CurrentPolicy(_ context.Context) (*domain.SafetyPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.policies) == 0 {
		return nil, domain.ErrNotFound
	}
	copied := m.policies[len(m.policies)-1]
	return &copied, nil
}

func (m *mockSafetyStore) AppendPolicy(_ context.Context, p domain.SafetyPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = append(m.policies, p)
	return nil
}

type mockLockStore struct {
	mu         sync.Mutex
	holder     string
	contention bool
	broken     string
	acquires   int
	releases   int
}

func (m *mockLockStore) Acquire(_ context.Context, holderID string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
	if m.contention {
		return "", domain.ErrLockContention
	}
	m.holder = holderID
	return m.broken, nil
}

func (m *mockLockStore) Release(_ context.Context, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == holderID {
		m.holder = ""
		m.releases++
	}
	return nil
}

type mockEmbedder struct {
	dims    int
	batches int
	err     error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.batches++
	dims := m.dims
	if dims == 0 {
		dims = 4
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int    { return m.dims }
func (m *mockEmbedder) ModelName() string  { return "mock-embedder" }
func (m *mockEmbedder) Ping(context.Context) error { return nil }
func (m *mockEmbedder) Close() error       { return nil }

type mockModeration struct {
	toxic func(text string) bool
	calls int
	err   error
}

func (m *mockModeration) Classify(ctx context.Context, text string) (driven.ModerationVerdict, error) {
	verdicts, err := m.ClassifyBatch(ctx, []string{text})
	if err != nil {
		return driven.ModerationVerdict{}, err
	}
	return verdicts[0], nil
}

func (m *mockModeration) ClassifyBatch(_ context.Context, texts []string) ([]driven.ModerationVerdict, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]driven.ModerationVerdict, len(texts))
	for i, t := range texts {
		if m.toxic != nil && m.toxic(t) {
			out[i] = driven.ModerationVerdict{Toxic: true, Score: 0.95}
		}
	}
	return out, nil
}

func (m *mockModeration) Close() error { return nil }

type mockTraining struct {
	mu       sync.Mutex
	submits  int
	examples []driven.TrainingExample
	handle   string
	statuses map[string]driven.JobStatus
	subErr   error
	pollErr  error
}

func (m *mockTraining) SubmitJob(_ context.Context, examples []driven.TrainingExample) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return "", m.subErr
	}
	m.submits++
	m.examples = examples
	if m.handle == "" {
		m.handle = "job-1"
	}
	return m.handle, nil
}

func (m *mockTraining) PollJob(_ context.Context, handle string) (driven.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return driven.JobStatus{}, m.pollErr
	}
	return m.statuses[handle], nil
}

func (m *mockTraining) Close() error { return nil }

type mockMetrics struct {
	mu      sync.Mutex
	runs    []driven.RunMetrics
	actions []domain.ActionType
	cost    float64
}

func (m *mockMetrics) PublishRun(r driven.RunMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
}

func (m *mockMetrics) CountAction(t domain.ActionType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, t)
}

func (m *mockMetrics) AddCost(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost += usd
}

// Interface conformance for the fakes.
var (
	_ driven.EmbeddingLog         = (*mockEmbeddingLog)(nil)
	_ driven.InteractionLog       = (*mockInteractionLog)(nil)
	_ driven.EvaluationLog        = (*mockEvaluationLog)(nil)
	_ driven.DocumentStore        = (*mockDocumentStore)(nil)
	_ driven.DriftEventStore      = (*mockEventStore)(nil)
	_ driven.ModelVersionStore    = (*mockModelStore)(nil)
	_ driven.SafetyPolicyStore    = (*mockSafetyStore)(nil)
	_ driven.RunLockStore         = (*mockLockStore)(nil)
	_ driven.EmbeddingService     = (*mockEmbedder)(nil)
	_ driven.ModerationClassifier = (*mockModeration)(nil)
	_ driven.TrainingService      = (*mockTraining)(nil)
	_ driven.MetricsPublisher     = (*mockMetrics)(nil)
)
