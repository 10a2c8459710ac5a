package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
)

func staleDocs(n int) []domain.Document {
	updated := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{
			ID:        fmt.Sprintf("doc-%03d", i),
			Content:   fmt.Sprintf("content %d", i),
			UpdatedAt: updated,
		}
	}
	return docs
}

func TestReindexProcessesAllStaleDocuments(t *testing.T) {
	store := &mockDocumentStore{docs: staleDocs(70)}
	embedder := &mockEmbedder{dims: 4}
	reindexer := NewReindexer(store, embedder)

	result, err := reindexer.Reindex(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", result.Status)
	assert.Equal(t, 70, result.DocumentsProcessed)
	assert.Equal(t, "doc-069", result.NewCursor)
	assert.Equal(t, 3, embedder.batches, "70 documents in batches of 32")

	for _, d := range store.docs {
		assert.False(t, d.NeedsReindex(), "document %s still stale", d.ID)
		assert.NotNil(t, d.Embedding)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	store := &mockDocumentStore{docs: staleDocs(10)}
	reindexer := NewReindexer(store, &mockEmbedder{dims: 4})

	first, err := reindexer.Reindex(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 10, first.DocumentsProcessed)

	// Nothing changed between passes: the second pass rewrites nothing.
	second, err := reindexer.Reindex(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", second.Status)
	assert.Zero(t, second.DocumentsProcessed)
	assert.Equal(t, 10, store.upserts)
}

func TestReindexSkipsFreshDocuments(t *testing.T) {
	docs := staleDocs(5)
	docs[1].LastIndexedAt = docs[1].UpdatedAt.Add(time.Hour)
	docs[3].LastIndexedAt = docs[3].UpdatedAt.Add(time.Hour)
	store := &mockDocumentStore{docs: docs}
	reindexer := NewReindexer(store, &mockEmbedder{dims: 4})

	result, err := reindexer.Reindex(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.DocumentsProcessed)
}

func TestReindexResumesFromCursor(t *testing.T) {
	store := &mockDocumentStore{docs: staleDocs(10)}
	reindexer := NewReindexer(store, &mockEmbedder{dims: 4})

	result, err := reindexer.Reindex(context.Background(), "doc-004")
	require.NoError(t, err)
	assert.Equal(t, 5, result.DocumentsProcessed)
	assert.Equal(t, "doc-009", result.NewCursor)
}

func TestReindexWithoutEmbedderFailsCleanly(t *testing.T) {
	store := &mockDocumentStore{docs: staleDocs(3)}
	reindexer := NewReindexer(store, nil)

	result, err := reindexer.Reindex(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, "failed", result.Status)
	assert.Zero(t, store.upserts)
}

func TestReindexStoreFailureReturnsCursor(t *testing.T) {
	store := &mockDocumentStore{docs: staleDocs(3), listErr: fmt.Errorf("db locked")}
	reindexer := NewReindexer(store, &mockEmbedder{dims: 4})

	result, err := reindexer.Reindex(context.Background(), "doc-000")
	require.Error(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "doc-000", result.NewCursor, "cursor survives for the next run")
}
