package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *EmbeddingService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewEmbeddingService(Config{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return svc
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		// Indices deliberately reversed relative to input order
		fmt.Fprint(w, `{
			"data": [
				{"embedding": [2.0, 2.0], "index": 1},
				{"embedding": [1.0, 1.0], "index": 0}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`)
	})

	embeddings, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{1.0, 1.0}, embeddings[0])
	assert.Equal(t, []float32{2.0, 2.0}, embeddings[1])
}

func TestEmbedBatch_RejectsCountMismatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data": [{"embedding": [1.0], "index": 0}]}`)
	})

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 embeddings for 2 inputs")
}

func TestEmbedBatch_RejectsOutOfRangeIndex(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": [
				{"embedding": [1.0], "index": 0},
				{"embedding": [2.0], "index": 5}
			]
		}`)
	})

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 5 out of range")
}

func TestEmbedBatch_RejectsMissingIndex(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		// Two entries, but both claim slot 0; slot 1 is never filled
		fmt.Fprint(w, `{
			"data": [
				{"embedding": [1.0], "index": 0},
				{"embedding": [2.0], "index": 0}
			]
		}`)
	})

	_, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing embedding for input 1")
}

func TestEmbedBatch_ReportsCost(t *testing.T) {
	var reported float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"data": [{"embedding": [1.0], "index": 0}],
			"usage": {"prompt_tokens": 1000000, "total_tokens": 1000000}
		}`)
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(Config{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		Model:             "text-embedding-3-small",
		RequestsPerSecond: 1000,
		CostSink:          func(usd float64) { reported += usd },
	})
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), []string{"a"})

	require.NoError(t, err)
	assert.InDelta(t, 0.02, reported, 1e-9)
}

func TestNewEmbeddingService_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbeddingService(Config{})
	assert.Error(t, err)
}
