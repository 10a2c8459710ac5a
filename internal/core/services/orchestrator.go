package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driving"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.DriftEngine = (*Orchestrator)(nil)

// driftMonitor is the common contract of the three monitors.
type driftMonitor interface {
	Signal() domain.Signal
	Detect(ctx context.Context, baseline, current domain.Window) (domain.MonitorResult, error)
}

// Orchestrator drives one complete evaluation run:
//
//	Idle -> AcquiringLock -> RunningMonitors -> Deciding ->
//	DispatchingActions -> PersistingEvent -> Idle
//
// Failure of any single monitor or action is trapped into the audit
// record for that component; the run always reaches persistence. Only
// configuration and lock contention reach the caller.
type Orchestrator struct {
	cfg      domain.EngineConfig
	monitors []driftMonitor
	decider  *DecisionEngine
	execs    *Executors
	tuner    *FineTuner
	events   driven.DriftEventStore
	lock     driven.RunLockStore
	metrics  driven.MetricsPublisher // optional

	// now is the run clock, swappable in tests.
	now func() time.Time
}

// NewOrchestrator wires a run-once drift engine.
func NewOrchestrator(
	cfg domain.EngineConfig,
	monitors []driftMonitor,
	decider *DecisionEngine,
	execs *Executors,
	tuner *FineTuner,
	events driven.DriftEventStore,
	lock driven.RunLockStore,
	metrics driven.MetricsPublisher,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		monitors: monitors,
		decider:  decider,
		execs:    execs,
		tuner:    tuner,
		events:   events,
		lock:     lock,
		metrics:  metrics,
		now:      time.Now,
	}
}

// NewMonitors builds the standard monitor set for the orchestrator.
func NewMonitors(embedding *EmbeddingMonitor, behavior *BehaviorMonitor, accuracy *AccuracyMonitor) []driftMonitor {
	return []driftMonitor{embedding, behavior, accuracy}
}

// Run executes one evaluation run. See the package interface for the
// error contract.
func (o *Orchestrator) Run(ctx context.Context) (*driving.RunReport, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	now := o.now().UTC()
	report := &driving.RunReport{RunID: runID}

	logger.Section("drift run " + runID)
	logger.Debug("state: acquiring lock")
	broken, err := o.lock.Acquire(ctx, runID, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if broken != "" {
		// Operational alert: a prior run died holding the lease.
		logger.Warn("broke stale run lease held by %s", broken)
		report.BrokenLease = broken
	}
	defer func() {
		if err := o.lock.Release(ctx, runID); err != nil {
			logger.Warn("release run lock: %v", err)
		}
	}()

	// Finish open training jobs first so gate outcomes land in this
	// run's audit record.
	pollOutcomes, err := o.tuner.Poll(ctx)
	if err != nil {
		logger.Warn("training poll step failed: %v", err)
		pollOutcomes = append(pollOutcomes, PollOutcome{Outcome: "poll_error", Detail: err.Error()})
	}
	for _, p := range pollOutcomes {
		if p.Outcome != "running" && p.Outcome != "poll_error" {
			report.JobsResolved++
		}
	}

	logger.Debug("state: running monitors")
	results := o.runMonitors(ctx, now)

	logger.Debug("state: deciding")
	history, err := o.events.EventsSince(ctx, now.AddDate(0, 0, -(o.cfg.CooldownDays+1)))
	if err != nil {
		// Without history every cooldown check would pass; refusing to
		// decide is safer than an action storm.
		logger.Warn("history query failed, suppressing all actions this run: %v", err)
		history = nil
	}
	var decision Decision
	if err == nil {
		decision = o.decider.Decide(results, history, now)
	}

	logger.Debug("state: dispatching actions")
	event := o.buildEvent(runID, now, results, decision, pollOutcomes, report.BrokenLease)
	o.dispatch(ctx, &event, decision.Intents, now)

	logger.Debug("state: persisting event")
	if !event.Trivial() {
		if err := o.events.AppendEvent(ctx, event); err != nil {
			logger.Warn("persist drift event: %v", err)
		} else {
			report.Event = &event
		}
	}

	o.publish(results, event)
	logger.Debug("state: idle")
	return report, nil
}

// PollTrainingJobs runs only the idempotent poll step.
func (o *Orchestrator) PollTrainingJobs(ctx context.Context) (int, error) {
	if err := o.cfg.Validate(); err != nil {
		return 0, err
	}
	outcomes, err := o.tuner.Poll(ctx)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, p := range outcomes {
		if p.Outcome != "running" {
			resolved++
		}
	}
	return resolved, nil
}

// runMonitors executes the three monitors concurrently. Each monitor's
// failure is converted in place: insufficient data becomes a skipped
// zero score, anything else becomes an error note in its details. The
// group never cancels siblings and always waits for all three.
func (o *Orchestrator) runMonitors(ctx context.Context, now time.Time) map[domain.Signal]domain.MonitorResult {
	baseline, current := domain.ComparisonWindows(now, o.cfg.BaselineDays, o.cfg.CurrentDays)

	resultCh := make(chan domain.MonitorResult, len(o.monitors))
	g := new(errgroup.Group)
	for _, m := range o.monitors {
		m := m
		g.Go(func() error {
			resultCh <- o.runMonitor(ctx, m, baseline, current)
			return nil
		})
	}
	_ = g.Wait() // monitor goroutines never return errors
	close(resultCh)

	results := make(map[domain.Signal]domain.MonitorResult, len(o.monitors))
	for r := range resultCh {
		results[r.Signal] = r
	}
	return results
}

func (o *Orchestrator) runMonitor(ctx context.Context, m driftMonitor, baseline, current domain.Window) domain.MonitorResult {
	result, err := m.Detect(ctx, baseline, current)
	switch {
	case err == nil:
		return result
	case errors.Is(err, domain.ErrDataInsufficient):
		logger.Info("monitor %s skipped: %v", m.Signal(), err)
		return domain.MonitorResult{
			Signal:  m.Signal(),
			Skipped: true,
			Details: map[string]any{"skipped": true, "reason": err.Error()},
		}
	default:
		logger.Warn("monitor %s failed: %v", m.Signal(), err)
		return domain.MonitorResult{
			Signal:  m.Signal(),
			Err:     err.Error(),
			Details: map[string]any{"error": err.Error()},
		}
	}
}

// buildEvent assembles the audit record before dispatch.
func (o *Orchestrator) buildEvent(
	runID string,
	now time.Time,
	results map[domain.Signal]domain.MonitorResult,
	decision Decision,
	pollOutcomes []PollOutcome,
	brokenLease string,
) domain.DriftEvent {
	details := map[string]any{}
	for signal, r := range results {
		details[string(signal)] = r.Details
	}
	if len(decision.Suppressed) > 0 {
		details["suppressed"] = decision.Suppressed
	}
	for _, p := range pollOutcomes {
		if p.Outcome == "running" {
			continue
		}
		details["training_"+p.Outcome] = p.Handle + ": " + p.Detail
	}
	if brokenLease != "" {
		details["broke_stale_lease"] = brokenLease
	}

	return domain.DriftEvent{
		ID:             uuid.New().String(),
		RunID:          runID,
		Timestamp:      now,
		EmbeddingScore: results[domain.SignalEmbedding].Score,
		BehaviorScore:  results[domain.SignalBehavior].Score,
		AccuracyScore:  results[domain.SignalAccuracy].Score,
		OverallScore:   OverallScore(results),
		Details:        details,
	}
}

// dispatch records and (mode permitting) executes the decided intents.
// Dry-run intents are recorded untouched; require_approval intents wait
// for an external confirmation; otherwise the action executes now and
// its terminal status is recorded. An action failure stays inside its
// own record.
func (o *Orchestrator) dispatch(ctx context.Context, event *domain.DriftEvent, intents []domain.ActionIntent, now time.Time) {
	for _, intent := range intents {
		record := domain.ActionRecord{
			ID:        uuid.New().String(),
			EventID:   event.ID,
			Type:      intent.Type,
			Reason:    intent.Reason,
			CreatedAt: now,
		}

		switch {
		case o.cfg.DryRun:
			record.Status = domain.ActionStatusDryRun
		case o.cfg.RequireApproval:
			record.Status = domain.ActionStatusPendingApproval
		default:
			record.Status = domain.ActionStatusDispatched
			handle, err := o.execs.Execute(ctx, record.ID, intent.Type, now)
			record.Handle = handle
			if err != nil {
				logger.Warn("action %s failed: %v", intent.Type, err)
				record.Status = domain.ActionStatusFailed
				record.Error = err.Error()
				record.ResolvedAt = o.now().UTC()
			} else {
				// Failed dispatches never count toward the event totals.
				if o.metrics != nil {
					o.metrics.CountAction(intent.Type)
				}
				if intent.Type != domain.ActionFineTune {
					// Fine-tune stays dispatched until a later poll
					// resolves the asynchronous job.
					record.Status = domain.ActionStatusSucceeded
					record.ResolvedAt = o.now().UTC()
				}
			}
		}

		logger.Info("action %s recorded: status=%s", intent.Type, record.Status)
		event.Actions = append(event.Actions, record)
	}
}

// publish pushes the run's gauges to the metrics endpoint.
func (o *Orchestrator) publish(results map[domain.Signal]domain.MonitorResult, event domain.DriftEvent) {
	if o.metrics == nil {
		return
	}

	m := driven.RunMetrics{
		EmbeddingScore: event.EmbeddingScore,
		BehaviorScore:  event.BehaviorScore,
		AccuracyScore:  event.AccuracyScore,
		OverallScore:   event.OverallScore,
		ModelAccuracy:  -1,
		RefusalRate:    -1,
		ToxicityRate:   -1,
	}
	if d := results[domain.SignalAccuracy].Details; d != nil {
		if v, ok := d["accuracy_current"].(float64); ok {
			m.ModelAccuracy = v
		}
	}
	if d := results[domain.SignalBehavior].Details; d != nil {
		if v, ok := d["refusal_rate_current"].(float64); ok {
			m.RefusalRate = v
		}
		if v, ok := d["toxicity_rate_current"].(float64); ok {
			m.ToxicityRate = v
		}
	}
	o.metrics.PublishRun(m)
}
