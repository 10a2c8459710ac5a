package driven

import "context"

// ModerationVerdict is the result of classifying one text.
type ModerationVerdict struct {
	// Toxic is the binary flag at the classifier's own threshold.
	Toxic bool

	// Score is the classifier's confidence in [0, 1].
	Score float64
}

// ModerationClassifier flags toxic content via an external classifier.
// Optional: when nil, the behavior monitor relies solely on the
// toxicity flags already present on interaction records.
type ModerationClassifier interface {
	// Classify scores a single text.
	Classify(ctx context.Context, text string) (ModerationVerdict, error)

	// ClassifyBatch scores multiple texts, preserving order.
	ClassifyBatch(ctx context.Context, texts []string) ([]ModerationVerdict, error)

	// Close releases resources.
	Close() error
}
