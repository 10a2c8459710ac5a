package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// ==================== Model Version Store ====================

// modelVersionStore implements driven.ModelVersionStore.
type modelVersionStore struct {
	store *Store
}

var _ driven.ModelVersionStore = (*modelVersionStore)(nil)

// ActiveModel returns the single active model version.
func (s *modelVersionStore) ActiveModel(ctx context.Context) (*domain.ModelVersion, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT version_name, deployed_at, training_date, accuracy, is_active
		FROM model_versions WHERE is_active = 1
	`)

	mv, err := scanModelVersion(row)
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// SaveModel registers a model version. The active flag is never set here;
// only PromoteModel activates a model.
func (s *modelVersionStore) SaveModel(ctx context.Context, mv domain.ModelVersion) error {
	if mv.VersionName == "" {
		return domain.ErrInvalidInput
	}

	var trainingDate interface{}
	if !mv.TrainingDate.IsZero() {
		trainingDate = mv.TrainingDate
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO model_versions (version_name, deployed_at, training_date, accuracy, is_active)
		VALUES (?, NULL, ?, ?, 0)
		ON CONFLICT(version_name) DO UPDATE SET
			training_date = excluded.training_date,
			accuracy = excluded.accuracy
	`, mv.VersionName, trainingDate, mv.Accuracy)

	if err != nil {
		return fmt.Errorf("saving model version: %w", err)
	}
	return nil
}

// PromoteModel atomically swaps the active model from current to next.
// The first update is the compare: it matches only while current is still
// active, so a concurrent promotion that got there first makes this one
// fail without touching anything.
func (s *modelVersionStore) PromoteModel(ctx context.Context, current, next string, deployedAt time.Time) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE model_versions SET is_active = 0
		WHERE version_name = ? AND is_active = 1
	`, current)
	if err != nil {
		return fmt.Errorf("deactivating model: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deactivation result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: model %s is not the active model", domain.ErrNotFound, current)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE model_versions SET is_active = 1, deployed_at = ?
		WHERE version_name = ?
	`, deployedAt, next)
	if err != nil {
		return fmt.Errorf("activating model: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking activation result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: model %s is not registered", domain.ErrNotFound, next)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// scanModelVersion scans a single model version row.
func scanModelVersion(row *sql.Row) (*domain.ModelVersion, error) {
	var mv domain.ModelVersion
	var deployedAt, trainingDate sql.NullTime
	if err := row.Scan(&mv.VersionName, &deployedAt, &trainingDate, &mv.Accuracy, &mv.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning model version: %w", err)
	}

	if deployedAt.Valid {
		mv.DeployedAt = deployedAt.Time
	}
	if trainingDate.Valid {
		mv.TrainingDate = trainingDate.Time
	}

	return &mv, nil
}

// ==================== Safety Policy Store ====================

// safetyPolicyStore implements driven.SafetyPolicyStore.
type safetyPolicyStore struct {
	store *Store
}

var _ driven.SafetyPolicyStore = (*safetyPolicyStore)(nil)

// CurrentPolicy returns the newest policy revision.
func (s *safetyPolicyStore) CurrentPolicy(ctx context.Context) (*domain.SafetyPolicy, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT policy_version, moderation_threshold, blocked_terms, created_at
		FROM safety_policies
		ORDER BY created_at DESC, policy_version DESC
		LIMIT 1
	`)

	var p domain.SafetyPolicy
	var termsJSON string
	if err := row.Scan(&p.PolicyVersion, &p.ModerationThreshold, &termsJSON, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning safety policy: %w", err)
	}

	if termsJSON != "" {
		if err := json.Unmarshal([]byte(termsJSON), &p.BlockedTerms); err != nil {
			return nil, fmt.Errorf("unmarshaling blocked terms: %w", err)
		}
	}

	return &p, nil
}

// AppendPolicy writes a new policy revision.
func (s *safetyPolicyStore) AppendPolicy(ctx context.Context, p domain.SafetyPolicy) error {
	if p.PolicyVersion == "" {
		return domain.ErrInvalidInput
	}

	termsJSON, err := json.Marshal(p.BlockedTerms)
	if err != nil {
		return fmt.Errorf("marshalling blocked terms: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO safety_policies (policy_version, moderation_threshold, blocked_terms, created_at)
		VALUES (?, ?, ?, ?)
	`, p.PolicyVersion, p.ModerationThreshold, string(termsJSON), p.CreatedAt)

	if err != nil {
		return fmt.Errorf("appending safety policy: %w", err)
	}
	return nil
}
