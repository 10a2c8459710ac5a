package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// AccuracyMonitor compares evaluation-set accuracy and user feedback
// between the baseline and current windows. Both are scored as
// relative drops normalised by their thresholds; the overall score is
// the max of the two.
//
// Offline evaluations run on their own cadence, so an empty evaluation
// window is common and must not abort a run: the monitor reports
// domain.ErrDataInsufficient and the orchestrator records score 0 with
// a skipped flag.
type AccuracyMonitor struct {
	evals        driven.EvaluationLog
	interactions driven.InteractionLog
	cfg          domain.EngineConfig
}

// NewAccuracyMonitor creates the monitor.
func NewAccuracyMonitor(evals driven.EvaluationLog, interactions driven.InteractionLog, cfg domain.EngineConfig) *AccuracyMonitor {
	return &AccuracyMonitor{evals: evals, interactions: interactions, cfg: cfg}
}

// Signal names the monitor's drift signal.
func (m *AccuracyMonitor) Signal() domain.Signal {
	return domain.SignalAccuracy
}

// Detect compares the two windows. Fails with domain.ErrDataInsufficient
// when the current evaluation window holds no records.
func (m *AccuracyMonitor) Detect(ctx context.Context, baseline, current domain.Window) (domain.MonitorResult, error) {
	baseEvals, err := m.evals.EvaluationsInWindow(ctx, baseline)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query baseline evaluations: %w", err)
	}
	curEvals, err := m.evals.EvaluationsInWindow(ctx, current)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query current evaluations: %w", err)
	}

	if len(baseEvals) == 0 || len(curEvals) == 0 {
		return domain.MonitorResult{}, fmt.Errorf(
			"%w: baseline=%d current=%d evaluation records",
			domain.ErrDataInsufficient, len(baseEvals), len(curEvals))
	}

	baseAcc := meanAccuracy(baseEvals)
	curAcc := meanAccuracy(curEvals)

	var accuracyDrop, accuracyScore float64
	if baseAcc > 0 {
		accuracyDrop = (baseAcc - curAcc) / baseAcc
		accuracyScore = clamp01(accuracyDrop / m.cfg.AccuracyThreshold)
	}

	details := map[string]any{
		"accuracy_baseline": baseAcc,
		"accuracy_current":  curAcc,
		"accuracy_drop":     accuracyDrop,
		"accuracy_score":    accuracyScore,
		"eval_count":        len(curEvals),
	}

	feedbackScore := m.feedbackScore(ctx, baseline, current, details)

	score := accuracyScore
	if feedbackScore > score {
		score = feedbackScore
	}

	logger.Debug("accuracy drift: accuracy=%.3f feedback=%.3f -> %.3f",
		accuracyScore, feedbackScore, score)

	return domain.MonitorResult{
		Signal:  domain.SignalAccuracy,
		Score:   score,
		Details: details,
	}, nil
}

// feedbackScore computes the relative drop in mean user feedback.
// Missing feedback in either window contributes 0 rather than an
// error: ratings are sparse and optional.
func (m *AccuracyMonitor) feedbackScore(ctx context.Context, baseline, current domain.Window, details map[string]any) float64 {
	base, err := m.interactions.InteractionsInWindow(ctx, baseline)
	if err != nil {
		logger.Warn("feedback query (baseline) failed: %v", err)
		return 0
	}
	cur, err := m.interactions.InteractionsInWindow(ctx, current)
	if err != nil {
		logger.Warn("feedback query (current) failed: %v", err)
		return 0
	}

	baseStats := feedbackStats(base)
	curStats := feedbackStats(cur)

	details["feedback_baseline"] = baseStats.mean
	details["feedback_current"] = curStats.mean
	details["feedback_count"] = curStats.count
	details["positive_rate_current"] = curStats.positiveRate
	details["negative_rate_current"] = curStats.negativeRate

	if baseStats.count == 0 || curStats.count == 0 || baseStats.mean <= 0 {
		return 0
	}

	drop := (baseStats.mean - curStats.mean) / baseStats.mean
	score := clamp01(drop / m.cfg.FeedbackThreshold)
	details["feedback_drop"] = drop
	details["feedback_score"] = score
	return score
}

func meanAccuracy(evals []domain.EvaluationRecord) float64 {
	if len(evals) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evals {
		sum += e.Accuracy
	}
	return sum / float64(len(evals))
}

type ratingStats struct {
	count        int
	mean         float64
	positiveRate float64
	negativeRate float64
}

// feedbackStats aggregates the rated interactions of a window.
// Ratings at or above 4 count as positive, at or below 2 as negative.
func feedbackStats(records []domain.InteractionRecord) ratingStats {
	var stats ratingStats
	var sum float64
	var positive, negative int
	for _, r := range records {
		if r.FeedbackScore == nil {
			continue
		}
		stats.count++
		sum += *r.FeedbackScore
		if *r.FeedbackScore >= 4 {
			positive++
		}
		if *r.FeedbackScore <= 2 {
			negative++
		}
	}
	if stats.count > 0 {
		stats.mean = sum / float64(stats.count)
		stats.positiveRate = float64(positive) / float64(stats.count)
		stats.negativeRate = float64(negative) / float64(stats.count)
	}
	return stats
}
