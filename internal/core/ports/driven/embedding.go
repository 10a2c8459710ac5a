package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// This is an optional service - when nil, the reindex action reports
// failed instead of running.
//
// Implementations are expected to be rate-limited and to retry
// transient failures internally; a returned error means retries were
// exhausted and maps to domain.ErrExternalService at the call site.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	// This is more efficient than calling Embed in a loop for large batches.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 1536, 3072).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
