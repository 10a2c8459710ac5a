package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// defaultModerationThreshold seeds the policy when none exists yet.
const defaultModerationThreshold = 0.8

// SafetyFilterUpdater applies deltas to the versioned moderation
// policy. Every change appends a new revision; applying a delta and
// then its inverse restores the prior policy values under a new
// version id, keeping the trail append-only.
type SafetyFilterUpdater struct {
	policies driven.SafetyPolicyStore
}

// NewSafetyFilterUpdater creates the executor.
func NewSafetyFilterUpdater(policies driven.SafetyPolicyStore) *SafetyFilterUpdater {
	return &SafetyFilterUpdater{policies: policies}
}

// Apply writes a new policy revision with the delta applied and
// returns its version id.
func (u *SafetyFilterUpdater) Apply(ctx context.Context, delta domain.SafetyDelta) (string, error) {
	current, err := u.policies.CurrentPolicy(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		current = &domain.SafetyPolicy{ModerationThreshold: defaultModerationThreshold}
	} else if err != nil {
		return "", fmt.Errorf("load current policy: %w", err)
	}

	next := current.Apply(delta)
	next.PolicyVersion = uuid.New().String()
	next.CreatedAt = time.Now().UTC()

	if err := u.policies.AppendPolicy(ctx, next); err != nil {
		return "", fmt.Errorf("append policy: %w", err)
	}

	logger.Info("safety policy %s: threshold %.2f -> %.2f, %d blocked terms",
		next.PolicyVersion, current.ModerationThreshold, next.ModerationThreshold, len(next.BlockedTerms))
	return next.PolicyVersion, nil
}

// Tighten applies the standard tightening delta for a toxicity breach.
func (u *SafetyFilterUpdater) Tighten(ctx context.Context, thresholdStep float64) (string, error) {
	return u.Apply(ctx, domain.SafetyDelta{ThresholdDelta: thresholdStep})
}
