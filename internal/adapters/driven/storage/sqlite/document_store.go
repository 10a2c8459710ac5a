package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// StaleDocuments returns documents whose content changed after their last
// indexing, ordered by id so repeated calls walk a stable sequence.
func (s *documentStore) StaleDocuments(ctx context.Context, afterID string, limit int) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, content, embedding, updated_at, last_indexed_at
		FROM documents
		WHERE id > ? AND (last_indexed_at IS NULL OR updated_at > last_indexed_at)
		ORDER BY id
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		var doc domain.Document
		var embeddingBlob []byte
		var lastIndexedAt sql.NullTime
		if err := rows.Scan(&doc.ID, &doc.Content, &embeddingBlob, &doc.UpdatedAt, &lastIndexedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}

		doc.Embedding = bytesToFloat32Slice(embeddingBlob)
		if lastIndexedAt.Valid {
			doc.LastIndexedAt = lastIndexedAt.Time
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// UpsertEmbedding overwrites a document's embedding and advances its
// last-indexed time.
func (s *documentStore) UpsertEmbedding(ctx context.Context, docID string, vector []float32, indexedAt time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET embedding = ?, last_indexed_at = ? WHERE id = ?
	`, float32SliceToBytes(vector), indexedAt, docID)
	if err != nil {
		return fmt.Errorf("updating document embedding: %w", err)
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

// SaveDocument stores or updates a document's externally owned fields.
// The embedding and last-indexed time are left untouched on update; only
// the reindexer writes those.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return domain.ErrInvalidInput
	}

	var lastIndexedAt interface{}
	if !doc.LastIndexedAt.IsZero() {
		lastIndexedAt = doc.LastIndexedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, embedding, updated_at, last_indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Content, float32SliceToBytes(doc.Embedding), doc.UpdatedAt, lastIndexedAt)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}
