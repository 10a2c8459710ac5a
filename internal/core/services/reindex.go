package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// reindexBatchSize is the number of documents embedded per service call.
const reindexBatchSize = 32

// ReindexResult summarises one reindex pass.
type ReindexResult struct {
	// Status is "succeeded" or "failed".
	Status string

	// DocumentsProcessed counts documents whose embeddings were rewritten.
	DocumentsProcessed int

	// NewCursor is the id of the last processed document; resuming from
	// it skips documents already visited in this pass.
	NewCursor string
}

// Reindexer regenerates embeddings for documents whose content changed
// since they were last indexed. Idempotent by construction: the write
// is an upsert keyed by document id, so re-running over the same set
// overwrites with equal vectors and produces no duplicates.
type Reindexer struct {
	docs     driven.DocumentStore
	embedder driven.EmbeddingService
}

// NewReindexer creates the executor. embedder may be nil, in which
// case every reindex attempt fails cleanly.
func NewReindexer(docs driven.DocumentStore, embedder driven.EmbeddingService) *Reindexer {
	return &Reindexer{docs: docs, embedder: embedder}
}

// Reindex walks stale documents from the cursor, embedding and
// upserting in batches. A partial failure returns the cursor reached
// so far; the next scheduled run resumes from there.
func (r *Reindexer) Reindex(ctx context.Context, cursor string) (ReindexResult, error) {
	if r.embedder == nil {
		return ReindexResult{Status: "failed", NewCursor: cursor},
			fmt.Errorf("%w: embedding service not configured", domain.ErrExternalService)
	}

	result := ReindexResult{Status: "succeeded", NewCursor: cursor}
	for {
		batch, err := r.docs.StaleDocuments(ctx, result.NewCursor, reindexBatchSize)
		if err != nil {
			result.Status = "failed"
			return result, fmt.Errorf("fetch stale documents: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		var vectors [][]float32
		err = withRetry(ctx, "embed batch", func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = r.embedder.EmbedBatch(ctx, texts)
			return embedErr
		})
		if err != nil {
			result.Status = "failed"
			return result, fmt.Errorf("%w: embed batch after retries: %v", domain.ErrExternalService, err)
		}

		indexedAt := time.Now().UTC()
		for i, d := range batch {
			if err := r.docs.UpsertEmbedding(ctx, d.ID, vectors[i], indexedAt); err != nil {
				result.Status = "failed"
				return result, fmt.Errorf("upsert embedding for %s: %w", d.ID, err)
			}
			result.DocumentsProcessed++
			result.NewCursor = d.ID
		}
	}

	logger.Info("reindex complete: %d documents", result.DocumentsProcessed)
	return result, nil
}
