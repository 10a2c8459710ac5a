package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

// Executors routes a dispatched action to its executor. Shared by the
// orchestrator (auto-dispatch modes) and the approval service
// (require_approval mode).
type Executors struct {
	reindexer *Reindexer
	fineTuner *FineTuner
	safety    *SafetyFilterUpdater
	cfg       domain.EngineConfig
}

// NewExecutors bundles the three action executors.
func NewExecutors(reindexer *Reindexer, fineTuner *FineTuner, safety *SafetyFilterUpdater, cfg domain.EngineConfig) *Executors {
	return &Executors{reindexer: reindexer, fineTuner: fineTuner, safety: safety, cfg: cfg}
}

// Execute runs one action and returns its handle: the reindex cursor
// reached, the training job handle, or the new safety policy version.
func (e *Executors) Execute(ctx context.Context, actionID string, t domain.ActionType, now time.Time) (string, error) {
	switch t {
	case domain.ActionReindex:
		result, err := e.reindexer.Reindex(ctx, "")
		if err != nil {
			return result.NewCursor, err
		}
		return result.NewCursor, nil

	case domain.ActionFineTune:
		lookback := domain.Window{
			Start: now.AddDate(0, 0, -(e.cfg.BaselineDays + e.cfg.CurrentDays)),
			End:   now,
		}
		result, err := e.fineTuner.Submit(ctx, lookback, actionID)
		return result.JobHandle, err

	case domain.ActionUpdateSafetyFilters:
		return e.safety.Tighten(ctx, e.cfg.SafetyThresholdStep)

	default:
		return "", fmt.Errorf("%w: unknown action type %q", domain.ErrInvalidInput, t)
	}
}
