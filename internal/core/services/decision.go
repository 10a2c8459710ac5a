package services

import (
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// DecisionEngine turns monitor scores into corrective action intents.
// It is a pure function of (scores, details, history, config, now):
// the signal-to-action policy is a declarative table evaluated
// independently per signal, so multiple actions may be selected in one
// run and each can be tested in isolation.
type DecisionEngine struct {
	cfg domain.EngineConfig
}

// NewDecisionEngine creates the engine.
func NewDecisionEngine(cfg domain.EngineConfig) *DecisionEngine {
	return &DecisionEngine{cfg: cfg}
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	// Intents are the actions to record and (mode permitting) execute.
	Intents []domain.ActionIntent

	// Suppressed notes intents withheld by the cooldown, keyed by
	// action type, for the event's audit details.
	Suppressed map[string]string
}

// Decide evaluates the policy table over the three monitor results.
// history must contain the drift events of at least the cooldown
// period, in ascending timestamp order.
func (e *DecisionEngine) Decide(
	results map[domain.Signal]domain.MonitorResult,
	history []domain.DriftEvent,
	now time.Time,
) Decision {
	var candidates []domain.ActionIntent

	embedding := results[domain.SignalEmbedding]
	behavior := results[domain.SignalBehavior]
	accuracy := results[domain.SignalAccuracy]

	if embedding.Score >= e.cfg.EmbeddingThreshold {
		candidates = append(candidates, domain.ActionIntent{
			Type:         domain.ActionReindex,
			Reason:       fmt.Sprintf("embedding drift %.3f >= %.3f", embedding.Score, e.cfg.EmbeddingThreshold),
			TriggerScore: embedding.Score,
		})
	}

	// Fine-tune on accuracy degradation or on behavioural drift that is
	// not purely a toxicity breach; toxicity routes to the safety
	// filters instead of retraining.
	nonToxic := nonToxicityBehaviorScore(behavior)
	switch {
	case accuracy.Score >= e.cfg.AccuracyThreshold && !accuracy.Skipped:
		candidates = append(candidates, domain.ActionIntent{
			Type:         domain.ActionFineTune,
			Reason:       fmt.Sprintf("accuracy drift %.3f >= %.3f", accuracy.Score, e.cfg.AccuracyThreshold),
			TriggerScore: accuracy.Score,
		})
	case nonToxic >= e.cfg.BehaviorThreshold:
		candidates = append(candidates, domain.ActionIntent{
			Type:         domain.ActionFineTune,
			Reason:       fmt.Sprintf("behavior drift %.3f >= %.3f", nonToxic, e.cfg.BehaviorThreshold),
			TriggerScore: nonToxic,
		})
	}

	if exceeded, _ := behavior.Details["toxicity_exceeded"].(bool); exceeded {
		toxScore, _ := behavior.Details["toxicity_score"].(float64)
		candidates = append(candidates, domain.ActionIntent{
			Type:         domain.ActionUpdateSafetyFilters,
			Reason:       "toxicity rate exceeded its threshold",
			TriggerScore: toxScore,
		})
	}

	decision := Decision{Suppressed: map[string]string{}}
	cutoff := now.AddDate(0, 0, -e.cfg.CooldownDays)
	for _, intent := range candidates {
		if last, ok := lastDispatch(history, intent.Type); ok && last.After(cutoff) {
			msg := fmt.Sprintf("suppressed by cooldown: last dispatched %s", last.UTC().Format(time.RFC3339))
			decision.Suppressed[intent.Type.String()] = msg
			logger.Info("action %s %s", intent.Type, msg)
			continue
		}
		decision.Intents = append(decision.Intents, intent)
	}
	return decision
}

// OverallScore is the event-level drift score: the max of the three
// monitor scores, matching the conservative sub-metric aggregation.
func OverallScore(results map[domain.Signal]domain.MonitorResult) float64 {
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	return max
}

// nonToxicityBehaviorScore is the behaviour score with the toxicity
// sub-signal removed: the max of the refusal, error and length
// sub-scores. Falls back to the overall score when sub-scores are
// absent (a failed monitor has no details).
func nonToxicityBehaviorScore(behavior domain.MonitorResult) float64 {
	if behavior.Details == nil {
		return behavior.Score
	}
	var max float64
	found := false
	for _, key := range []string{"refusal_score", "error_score", "length_score"} {
		if v, ok := behavior.Details[key].(float64); ok {
			found = true
			if v > max {
				max = v
			}
		}
	}
	if !found {
		return behavior.Score
	}
	return max
}

// lastDispatch returns the creation time of the most recent action of
// the given type that reached dispatched or succeeded status. history
// is scanned backward, relying on its ascending timestamp order.
func lastDispatch(history []domain.DriftEvent, t domain.ActionType) (time.Time, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		for _, a := range history[i].Actions {
			if a.Type != t {
				continue
			}
			if a.Status == domain.ActionStatusDispatched || a.Status == domain.ActionStatusSucceeded {
				return a.CreatedAt, true
			}
		}
	}
	return time.Time{}, false
}
