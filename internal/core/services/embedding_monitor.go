package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// powerIterations bounds the principal-axis estimation.
const powerIterations = 30

// psiBins is the number of baseline-derived bins for PSI (deciles).
const psiBins = 10

// EmbeddingMonitor detects distribution shift in logged embedding
// vectors between a baseline window and a current window.
//
// Four sub-metrics are computed, each normalised to [0, 1]:
// centroid distance, cluster structure shift (silhouette drop),
// population stability index on the first principal axis, and
// variance ratio. The overall score is the max of the four: any single
// strong signal should be actionable, and a mean would dilute a sharp,
// real shift.
type EmbeddingMonitor struct {
	log  driven.EmbeddingLog
	kind domain.EmbeddingKind
	cfg  domain.EngineConfig
}

// NewEmbeddingMonitor creates a monitor over the given embedding kind.
func NewEmbeddingMonitor(log driven.EmbeddingLog, kind domain.EmbeddingKind, cfg domain.EngineConfig) *EmbeddingMonitor {
	return &EmbeddingMonitor{log: log, kind: kind, cfg: cfg}
}

// Signal names the monitor's drift signal.
func (m *EmbeddingMonitor) Signal() domain.Signal {
	return domain.SignalEmbedding
}

// Detect compares the two windows and returns a bounded drift score.
// Fails with domain.ErrDataInsufficient when either window holds fewer
// than min_samples records of the monitored kind.
func (m *EmbeddingMonitor) Detect(ctx context.Context, baseline, current domain.Window) (domain.MonitorResult, error) {
	base, err := m.log.EmbeddingsInWindow(ctx, baseline, m.kind)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query baseline embeddings: %w", err)
	}
	cur, err := m.log.EmbeddingsInWindow(ctx, current, m.kind)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query current embeddings: %w", err)
	}

	if len(base) < m.cfg.MinSamples || len(cur) < m.cfg.MinSamples {
		return domain.MonitorResult{}, fmt.Errorf(
			"%w: baseline=%d current=%d min=%d",
			domain.ErrDataInsufficient, len(base), len(cur), m.cfg.MinSamples)
	}

	baseVecs := vectorsOf(base)
	curVecs := vectorsOf(cur)

	details := map[string]any{
		"kind":           m.kind.String(),
		"baseline_count": len(base),
		"current_count":  len(cur),
	}

	centroidScore := m.centroidScore(baseVecs, curVecs, details)
	clusterScore := m.clusterScore(baseVecs, curVecs, details)
	psiScore := m.psiScore(baseVecs, curVecs, details)
	varianceScore := m.varianceScore(baseVecs, curVecs, details)

	score := centroidScore
	for _, s := range []float64{clusterScore, psiScore, varianceScore} {
		if s > score {
			score = s
		}
	}

	logger.Debug("embedding drift: centroid=%.3f cluster=%.3f psi=%.3f variance=%.3f -> %.3f",
		centroidScore, clusterScore, psiScore, varianceScore, score)

	return domain.MonitorResult{
		Signal:  domain.SignalEmbedding,
		Score:   score,
		Details: details,
	}, nil
}

// centroidScore normalises the larger of the euclidean and cosine
// centroid distances by the configured reference scale.
func (m *EmbeddingMonitor) centroidScore(base, cur [][]float32, details map[string]any) float64 {
	baseCentroid := meanVector(base)
	curCentroid := meanVector(cur)

	euclidean := euclideanDistance(baseCentroid, curCentroid)
	cosine := cosineDistance(baseCentroid, curCentroid)

	dist := euclidean
	if cosine > dist {
		dist = cosine
	}
	score := clamp01(dist / m.cfg.DistanceThreshold)

	details["centroid_euclidean"] = euclidean
	details["centroid_cosine"] = cosine
	details["centroid_score"] = score
	return score
}

// clusterScore fits k-means on the baseline and measures how much the
// silhouette degrades when the same partition is applied to current.
func (m *EmbeddingMonitor) clusterScore(base, cur [][]float32, details map[string]any) float64 {
	k := m.cfg.KMeansK
	if len(base) < k || len(cur) < k {
		details["cluster_score"] = 0.0
		details["cluster_skipped"] = "insufficient samples for clustering"
		return 0
	}

	model := fitKMeans(base, k)
	baseSil := silhouetteScore(base, model.labels, k)
	curSil := silhouetteScore(cur, model.assign(cur), k)

	drop := baseSil - curSil
	score := clamp01(drop / m.cfg.SilhouetteThreshold)

	details["silhouette_baseline"] = baseSil
	details["silhouette_current"] = curSil
	details["silhouette_drop"] = drop
	details["cluster_score"] = score
	return score
}

// psiScore projects both samples onto the baseline's first principal
// axis and computes the population stability index over decile bins.
func (m *EmbeddingMonitor) psiScore(base, cur [][]float32, details map[string]any) float64 {
	axis := principalAxis(base, powerIterations)
	mean := meanVector(base)

	psi := populationStabilityIndex(
		projectOnto(base, mean, axis),
		projectOnto(cur, mean, axis),
		psiBins,
	)
	score := psiToScore(psi)

	details["psi"] = psi
	details["psi_score"] = score
	return score
}

// varianceScore normalises |var(current)/var(baseline) - 1|.
func (m *EmbeddingMonitor) varianceScore(base, cur [][]float32, details map[string]any) float64 {
	baseVar := scalarVariance(base)
	curVar := scalarVariance(cur)

	var change float64
	if baseVar > 0 {
		change = curVar/baseVar - 1
		if change < 0 {
			change = -change
		}
	}
	score := clamp01(change / m.cfg.VarianceThreshold)

	details["variance_baseline"] = baseVar
	details["variance_current"] = curVar
	details["variance_change"] = change
	details["variance_score"] = score
	return score
}

func vectorsOf(records []domain.EmbeddingRecord) [][]float32 {
	vecs := make([][]float32, len(records))
	for i, r := range records {
		vecs[i] = r.Vector
	}
	return vecs
}
