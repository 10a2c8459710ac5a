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

// driftEventStore implements driven.DriftEventStore.
type driftEventStore struct {
	store *Store
}

var _ driven.DriftEventStore = (*driftEventStore)(nil)

// AppendEvent persists a drift event and its action records in one
// transaction so a partially written event can never be observed.
func (s *driftEventStore) AppendEvent(ctx context.Context, event domain.DriftEvent) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshalling event details: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO drift_events
			(id, run_id, ts, embedding_score, behavior_score, accuracy_score, overall_score, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.RunID, event.Timestamp,
		event.EmbeddingScore, event.BehaviorScore, event.AccuracyScore, event.OverallScore,
		string(detailsJSON))
	if err != nil {
		return fmt.Errorf("inserting drift event: %w", err)
	}

	for _, action := range event.Actions {
		var resolvedAt interface{}
		if !action.ResolvedAt.IsZero() {
			resolvedAt = action.ResolvedAt
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO action_records
				(id, event_id, type, status, handle, reason, error, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, action.ID, event.ID, string(action.Type), string(action.Status),
			action.Handle, action.Reason, action.Error, action.CreatedAt, resolvedAt)
		if err != nil {
			return fmt.Errorf("inserting action record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// EventsSince returns events at or after since, oldest first.
func (s *driftEventStore) EventsSince(ctx context.Context, since time.Time) ([]domain.DriftEvent, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, run_id, ts, embedding_score, behavior_score, accuracy_score, overall_score, details
		FROM drift_events
		WHERE ts >= ?
		ORDER BY ts
	`, since)
	if err != nil {
		return nil, fmt.Errorf("querying drift events: %w", err)
	}
	defer rows.Close()

	return s.scanEventsWithActions(ctx, rows)
}

// RecentEvents returns up to limit events, newest first.
func (s *driftEventStore) RecentEvents(ctx context.Context, limit int) ([]domain.DriftEvent, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, run_id, ts, embedding_score, behavior_score, accuracy_score, overall_score, details
		FROM drift_events
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	return s.scanEventsWithActions(ctx, rows)
}

// scanEventsWithActions scans event rows and attaches their action records.
func (s *driftEventStore) scanEventsWithActions(ctx context.Context, rows *sql.Rows) ([]domain.DriftEvent, error) {
	var events []domain.DriftEvent //nolint:prealloc // size unknown from query
	for rows.Next() {
		var event domain.DriftEvent
		var detailsJSON string
		if err := rows.Scan(&event.ID, &event.RunID, &event.Timestamp,
			&event.EmbeddingScore, &event.BehaviorScore, &event.AccuracyScore, &event.OverallScore,
			&detailsJSON); err != nil {
			return nil, fmt.Errorf("scanning drift event: %w", err)
		}

		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling event details: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drift events: %w", err)
	}

	for i := range events {
		actions, err := s.actionsForEvent(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Actions = actions
	}

	return events, nil
}

// actionsForEvent loads the action records owned by one event.
func (s *driftEventStore) actionsForEvent(ctx context.Context, eventID string) ([]domain.ActionRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, event_id, type, status, handle, reason, error, created_at, resolved_at
		FROM action_records
		WHERE event_id = ?
		ORDER BY created_at
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying action records: %w", err)
	}
	defer rows.Close()

	return scanActionRecords(rows)
}

// GetAction returns a single action record by id.
func (s *driftEventStore) GetAction(ctx context.Context, actionID string) (*domain.ActionRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, event_id, type, status, handle, reason, error, created_at, resolved_at
		FROM action_records WHERE id = ?
	`, actionID)

	var action domain.ActionRecord
	var actionType, status string
	var resolvedAt sql.NullTime
	if err := row.Scan(&action.ID, &action.EventID, &actionType, &status,
		&action.Handle, &action.Reason, &action.Error, &action.CreatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning action record: %w", err)
	}

	action.Type = domain.ActionType(actionType)
	action.Status = domain.ActionStatus(status)
	if resolvedAt.Valid {
		action.ResolvedAt = resolvedAt.Time
	}

	return &action, nil
}

// UpdateActionStatus transitions an action record. The transaction reads
// the current status and rejects transitions the lifecycle forbids, so a
// terminal record can never be resurrected.
func (s *driftEventStore) UpdateActionStatus(
	ctx context.Context,
	actionID string,
	status domain.ActionStatus,
	handle, errMsg string,
	resolvedAt time.Time,
) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var currentStr string
	row := tx.QueryRowContext(ctx, "SELECT status FROM action_records WHERE id = ?", actionID)
	if err := row.Scan(&currentStr); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("reading action status: %w", err)
	}

	current := domain.ActionStatus(currentStr)
	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: action %s cannot move from %s to %s",
			domain.ErrInvalidInput, actionID, current, status)
	}

	var resolved interface{}
	if !resolvedAt.IsZero() {
		resolved = resolvedAt
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE action_records SET status = ?, handle = ?, error = ?, resolved_at = ?
		WHERE id = ?
	`, string(status), handle, errMsg, resolved, actionID)
	if err != nil {
		return fmt.Errorf("updating action record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// PendingActions returns action records awaiting approval, oldest first.
func (s *driftEventStore) PendingActions(ctx context.Context) ([]domain.ActionRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, event_id, type, status, handle, reason, error, created_at, resolved_at
		FROM action_records
		WHERE status = ?
		ORDER BY created_at
	`, string(domain.ActionStatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("querying pending actions: %w", err)
	}
	defer rows.Close()

	return scanActionRecords(rows)
}

// SaveTrainingJob records a submitted fine-tuning job.
func (s *driftEventStore) SaveTrainingJob(ctx context.Context, job domain.TrainingJob) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO training_jobs (handle, action_id, model_version, submitted_at, resolved)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			action_id = excluded.action_id,
			model_version = excluded.model_version,
			submitted_at = excluded.submitted_at,
			resolved = excluded.resolved
	`, job.Handle, job.ActionID, job.ModelVersion, job.SubmittedAt, boolToInt(job.Resolved))

	if err != nil {
		return fmt.Errorf("saving training job: %w", err)
	}
	return nil
}

// OpenTrainingJobs returns submitted jobs not yet resolved, oldest first.
func (s *driftEventStore) OpenTrainingJobs(ctx context.Context) ([]domain.TrainingJob, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT handle, action_id, model_version, submitted_at, resolved
		FROM training_jobs
		WHERE resolved = 0
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying open training jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.TrainingJob //nolint:prealloc // size unknown from query
	for rows.Next() {
		var job domain.TrainingJob
		if err := rows.Scan(&job.Handle, &job.ActionID, &job.ModelVersion,
			&job.SubmittedAt, &job.Resolved); err != nil {
			return nil, fmt.Errorf("scanning training job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating training jobs: %w", err)
	}

	return jobs, nil
}

// ResolveTrainingJob marks a job's lifecycle as finished.
func (s *driftEventStore) ResolveTrainingJob(ctx context.Context, handle string) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE training_jobs SET resolved = 1 WHERE handle = ?", handle)
	if err != nil {
		return fmt.Errorf("resolving training job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// scanActionRecords scans multiple action record rows.
func scanActionRecords(rows *sql.Rows) ([]domain.ActionRecord, error) {
	var actions []domain.ActionRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var action domain.ActionRecord
		var actionType, status string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&action.ID, &action.EventID, &actionType, &status,
			&action.Handle, &action.Reason, &action.Error, &action.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scanning action record: %w", err)
		}

		action.Type = domain.ActionType(actionType)
		action.Status = domain.ActionStatus(status)
		if resolvedAt.Valid {
			action.ResolvedAt = resolvedAt.Time
		}
		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action records: %w", err)
	}

	return actions, nil
}
