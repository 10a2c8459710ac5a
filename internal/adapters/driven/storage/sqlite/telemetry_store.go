package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// The telemetry tables are written by the serving and evaluation systems.
// The engine only reads them; the exported Insert helpers on Store exist
// for ingestion tooling and tests.

// ==================== Embedding Log ====================

// embeddingLog implements driven.EmbeddingLog.
type embeddingLog struct {
	store *Store
}

var _ driven.EmbeddingLog = (*embeddingLog)(nil)

// EmbeddingsInWindow returns embedding records of a kind inside the window.
func (s *embeddingLog) EmbeddingsInWindow(
	ctx context.Context,
	w domain.Window,
	kind domain.EmbeddingKind,
) ([]domain.EmbeddingRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, ts, kind, vector, metadata
		FROM embedding_log
		WHERE kind = ? AND ts >= ? AND ts < ?
		ORDER BY ts
	`, string(kind), w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("querying embedding log: %w", err)
	}
	defer rows.Close()

	var records []domain.EmbeddingRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.EmbeddingRecord
		var kindStr string
		var vectorBlob []byte
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &kindStr, &vectorBlob, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning embedding record: %w", err)
		}

		rec.Kind = domain.EmbeddingKind(kindStr)
		rec.Vector = bytesToFloat32Slice(vectorBlob)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling embedding metadata: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedding log: %w", err)
	}

	return records, nil
}

// CountEmbeddings counts records of a kind inside the window.
func (s *embeddingLog) CountEmbeddings(
	ctx context.Context,
	w domain.Window,
	kind domain.EmbeddingKind,
) (int, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embedding_log
		WHERE kind = ? AND ts >= ? AND ts < ?
	`, string(kind), w.Start, w.End).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return count, nil
}

// InsertEmbedding appends one embedding record.
func (s *Store) InsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling embedding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_log (id, ts, kind, vector, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Timestamp, string(rec.Kind), float32SliceToBytes(rec.Vector), string(metadataJSON))

	if err != nil {
		return fmt.Errorf("inserting embedding record: %w", err)
	}
	return nil
}

// ==================== Interaction Log ====================

// interactionLog implements driven.InteractionLog.
type interactionLog struct {
	store *Store
}

var _ driven.InteractionLog = (*interactionLog)(nil)

// InteractionsInWindow returns interaction records inside the window.
func (s *interactionLog) InteractionsInWindow(
	ctx context.Context,
	w domain.Window,
) ([]domain.InteractionRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, ts, query_text, response_text, refusal_flag, toxicity_flag, error_flag,
		       feedback_score, latency_ms, model_version, metadata
		FROM interaction_log
		WHERE ts >= ? AND ts < ?
		ORDER BY ts
	`, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("querying interaction log: %w", err)
	}
	defer rows.Close()

	return scanInteractions(rows)
}

// HighQualityInteractions returns rated interactions at or above minScore,
// newest first, capped at limit.
func (s *interactionLog) HighQualityInteractions(
	ctx context.Context,
	w domain.Window,
	minScore float64,
	limit int,
) ([]domain.InteractionRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, ts, query_text, response_text, refusal_flag, toxicity_flag, error_flag,
		       feedback_score, latency_ms, model_version, metadata
		FROM interaction_log
		WHERE ts >= ? AND ts < ? AND feedback_score IS NOT NULL AND feedback_score >= ?
		ORDER BY ts DESC
		LIMIT ?
	`, w.Start, w.End, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("querying high-quality interactions: %w", err)
	}
	defer rows.Close()

	return scanInteractions(rows)
}

// InsertInteraction appends one interaction record.
func (s *Store) InsertInteraction(ctx context.Context, rec domain.InteractionRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling interaction metadata: %w", err)
	}

	var feedback interface{}
	if rec.FeedbackScore != nil {
		feedback = *rec.FeedbackScore
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interaction_log
			(id, ts, query_text, response_text, refusal_flag, toxicity_flag, error_flag,
			 feedback_score, latency_ms, model_version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Timestamp, rec.QueryText, rec.ResponseText,
		boolToInt(rec.RefusalFlag), boolToInt(rec.ToxicityFlag), boolToInt(rec.ErrorFlag),
		feedback, rec.LatencyMS, rec.ModelVersion, string(metadataJSON))

	if err != nil {
		return fmt.Errorf("inserting interaction record: %w", err)
	}
	return nil
}

// scanInteractions scans multiple interaction rows.
func scanInteractions(rows *sql.Rows) ([]domain.InteractionRecord, error) {
	var records []domain.InteractionRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.InteractionRecord
		var feedback sql.NullFloat64
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.QueryText, &rec.ResponseText,
			&rec.RefusalFlag, &rec.ToxicityFlag, &rec.ErrorFlag,
			&feedback, &rec.LatencyMS, &rec.ModelVersion, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning interaction record: %w", err)
		}

		if feedback.Valid {
			score := feedback.Float64
			rec.FeedbackScore = &score
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling interaction metadata: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interaction log: %w", err)
	}

	return records, nil
}

// ==================== Evaluation Log ====================

// evaluationLog implements driven.EvaluationLog.
type evaluationLog struct {
	store *Store
}

var _ driven.EvaluationLog = (*evaluationLog)(nil)

// EvaluationsInWindow returns evaluation records inside the window.
func (s *evaluationLog) EvaluationsInWindow(
	ctx context.Context,
	w domain.Window,
) ([]domain.EvaluationRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, ts, eval_set, model_version, accuracy, precision, recall, f1
		FROM evaluation_log
		WHERE ts >= ? AND ts < ?
		ORDER BY ts
	`, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("querying evaluation log: %w", err)
	}
	defer rows.Close()

	var records []domain.EvaluationRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.EvaluationRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.EvalSetName, &rec.ModelVersion,
			&rec.Accuracy, &rec.Precision, &rec.Recall, &rec.F1); err != nil {
			return nil, fmt.Errorf("scanning evaluation record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evaluation log: %w", err)
	}

	return records, nil
}

// LatestAccuracyForModel returns the newest evaluation accuracy for a model.
func (s *evaluationLog) LatestAccuracyForModel(ctx context.Context, modelVersion string) (float64, error) {
	var accuracy float64
	err := s.store.db.QueryRowContext(ctx, `
		SELECT accuracy FROM evaluation_log
		WHERE model_version = ?
		ORDER BY ts DESC
		LIMIT 1
	`, modelVersion).Scan(&accuracy)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("querying latest accuracy: %w", err)
	}
	return accuracy, nil
}

// InsertEvaluation appends one evaluation record.
func (s *Store) InsertEvaluation(ctx context.Context, rec domain.EvaluationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_log (id, ts, eval_set, model_version, accuracy, precision, recall, f1)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Timestamp, rec.EvalSetName, rec.ModelVersion,
		rec.Accuracy, rec.Precision, rec.Recall, rec.F1)

	if err != nil {
		return fmt.Errorf("inserting evaluation record: %w", err)
	}
	return nil
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
