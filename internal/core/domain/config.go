package domain

import (
	"fmt"
	"time"
)

// EngineConfig holds every recognised tuning knob for the drift engine.
// Defaults() produces a production-safe baseline; Validate rejects
// configurations the engine must not run with.
type EngineConfig struct {
	// BaselineDays is the baseline window length in days.
	BaselineDays int

	// CurrentDays is the current window length in days.
	CurrentDays int

	// MinSamples is the minimum embedding records per window before the
	// embedding monitor reports rather than skips.
	MinSamples int

	// KMeansK is the fixed cluster count for the cluster-shift sub-metric.
	KMeansK int

	// DistanceThreshold is the reference scale for centroid distance.
	DistanceThreshold float64

	// SilhouetteThreshold is the reference scale for silhouette drop.
	SilhouetteThreshold float64

	// VarianceThreshold is the reference scale for variance-ratio change.
	VarianceThreshold float64

	// RefusalRateThreshold is the acceptable refusal rate.
	RefusalRateThreshold float64

	// ToxicityRateThreshold is the acceptable toxicity rate.
	ToxicityRateThreshold float64

	// ErrorRateThreshold is the acceptable serving-error rate.
	ErrorRateThreshold float64

	// LengthChangeThreshold is the acceptable relative change in mean
	// response length.
	LengthChangeThreshold float64

	// AccuracyThreshold is the acceptable relative accuracy drop.
	AccuracyThreshold float64

	// FeedbackThreshold is the acceptable relative feedback-score drop.
	FeedbackThreshold float64

	// EmbeddingThreshold is the embedding score at which reindexing triggers.
	EmbeddingThreshold float64

	// BehaviorThreshold is the behavior score at which fine-tuning triggers.
	BehaviorThreshold float64

	// CooldownDays suppresses a repeat action of the same type within
	// this many days of its last dispatch.
	CooldownDays int

	// DryRun records intents without executing anything.
	DryRun bool

	// RequireApproval records intents as pending_approval; an external
	// confirmation flips them to dispatched. The engine never auto-approves.
	RequireApproval bool

	// QualityThreshold is the minimum feedback score for an interaction
	// to become a training example.
	QualityThreshold float64

	// FinetuneLimit caps the number of training examples per job.
	FinetuneLimit int

	// PromotionTolerance is how much worse than the active model a new
	// model's accuracy may be and still pass the validation gate.
	PromotionTolerance float64

	// SafetyThresholdStep is the moderation-threshold delta applied when
	// tightening filters.
	SafetyThresholdStep float64

	// LockTTL bounds how long a run lease is considered live.
	LockTTL time.Duration

	// MetricsListen is the optional address for the metrics scrape
	// endpoint during a run, e.g. ":9108". Empty disables the listener.
	MetricsListen string
}

// DefaultEngineConfig returns the production defaults.
// DryRun is off and RequireApproval is on: nothing executes without an
// explicit confirmation unless the operator opts out.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaselineDays:          30,
		CurrentDays:           7,
		MinSamples:            100,
		KMeansK:               5,
		DistanceThreshold:     0.15,
		SilhouetteThreshold:   0.2,
		VarianceThreshold:     0.3,
		RefusalRateThreshold:  0.10,
		ToxicityRateThreshold: 0.05,
		ErrorRateThreshold:    0.10,
		LengthChangeThreshold: 0.5,
		AccuracyThreshold:     0.05,
		FeedbackThreshold:     0.30,
		EmbeddingThreshold:    0.7,
		BehaviorThreshold:     0.2,
		CooldownDays:          3,
		DryRun:                false,
		RequireApproval:       true,
		QualityThreshold:      4.0,
		FinetuneLimit:         1000,
		PromotionTolerance:    0.02,
		SafetyThresholdStep:   -0.05,
		LockTTL:               30 * time.Minute,
	}
}

// Validate checks the configuration before the engine acquires the run
// lock. All violations are reported at once, wrapped in ErrConfiguration.
func (c EngineConfig) Validate() error {
	var problems []string

	if c.BaselineDays <= 0 {
		problems = append(problems, "baseline_days must be positive")
	}
	if c.CurrentDays <= 0 {
		problems = append(problems, "current_days must be positive")
	}
	if c.MinSamples <= 0 {
		problems = append(problems, "min_samples must be positive")
	}
	if c.KMeansK < 2 {
		problems = append(problems, "kmeans_k must be at least 2")
	}
	for name, v := range map[string]float64{
		"distance_threshold":      c.DistanceThreshold,
		"silhouette_threshold":    c.SilhouetteThreshold,
		"variance_threshold":      c.VarianceThreshold,
		"refusal_rate_threshold":  c.RefusalRateThreshold,
		"toxicity_rate_threshold": c.ToxicityRateThreshold,
		"error_rate_threshold":    c.ErrorRateThreshold,
		"length_change_threshold": c.LengthChangeThreshold,
		"accuracy_threshold":      c.AccuracyThreshold,
		"feedback_threshold":      c.FeedbackThreshold,
	} {
		if v <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.EmbeddingThreshold <= 0 || c.EmbeddingThreshold > 1 {
		problems = append(problems, "embedding_threshold must be in (0, 1]")
	}
	if c.BehaviorThreshold <= 0 || c.BehaviorThreshold > 1 {
		problems = append(problems, "behavior_threshold must be in (0, 1]")
	}
	if c.CooldownDays < 0 {
		problems = append(problems, "cooldown_days must not be negative")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 5 {
		problems = append(problems, "quality_threshold must be in [0, 5]")
	}
	if c.FinetuneLimit <= 0 {
		problems = append(problems, "finetune_limit must be positive")
	}
	if c.PromotionTolerance < 0 {
		problems = append(problems, "promotion_tolerance must not be negative")
	}
	if c.LockTTL <= 0 {
		problems = append(problems, "lock_ttl must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, joinProblems(problems))
	}
	return nil
}

func joinProblems(problems []string) string {
	out := problems[0]
	for _, p := range problems[1:] {
		out += "; " + p
	}
	return out
}
