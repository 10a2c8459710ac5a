package driven

import "github.com/custodia-labs/driftwatch/internal/core/domain"

// RunMetrics is the full gauge snapshot published after a run.
type RunMetrics struct {
	// EmbeddingScore, BehaviorScore, AccuracyScore and OverallScore are
	// the drift scores from the run, each in [0, 1].
	EmbeddingScore float64
	BehaviorScore  float64
	AccuracyScore  float64
	OverallScore   float64

	// ModelAccuracy is the current window's evaluation accuracy;
	// negative when the accuracy monitor was skipped.
	ModelAccuracy float64

	// RefusalRate and ToxicityRate are the current window's rates;
	// negative when the behavior monitor was skipped.
	RefusalRate  float64
	ToxicityRate float64

	// APICostUSD is the cumulative external API spend attributed to
	// this engine.
	APICostUSD float64
}

// MetricsPublisher exposes drift scores and action counters for
// external scraping. Optional: when nil, publishing is skipped.
type MetricsPublisher interface {
	// PublishRun updates all gauges from a completed run.
	PublishRun(m RunMetrics)

	// CountAction increments the dispatch counter for an action type.
	CountAction(t domain.ActionType)

	// AddCost adds to the cumulative API cost gauge.
	AddCost(usd float64)
}
