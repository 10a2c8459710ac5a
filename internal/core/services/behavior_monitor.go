package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// refusalPatterns are lexical markers of a refusal response, used to
// backfill the refusal flag on records the serving system left unset.
var refusalPatterns = []string{
	"i cannot",
	"i can't",
	"i'm unable to",
	"i am unable to",
	"i don't have",
	"i do not have",
	"i apologize, but i cannot",
	"i'm sorry, but i cannot",
	"i'm not able to",
	"i am not able to",
	"as an ai",
	"i don't feel comfortable",
	"that's not something i can",
}

// moderationBackfillLimit caps how many unflagged responses per window
// are sent to the moderation classifier.
const moderationBackfillLimit = 200

// windowRates are the behavioural rates of one window.
type windowRates struct {
	total       int
	refusalRate float64
	toxicRate   float64
	errorRate   float64
	meanLength  float64
	stdLength   float64
}

// BehaviorMonitor compares refusal, toxicity and error rates plus the
// response-length distribution between the baseline and current
// windows. Each rate is scored as its relative excess over the
// configured threshold; the overall score is the max.
type BehaviorMonitor struct {
	log        driven.InteractionLog
	moderation driven.ModerationClassifier // optional
	cfg        domain.EngineConfig
}

// NewBehaviorMonitor creates the monitor. moderation may be nil, in
// which case only pre-flagged toxicity is counted.
func NewBehaviorMonitor(log driven.InteractionLog, moderation driven.ModerationClassifier, cfg domain.EngineConfig) *BehaviorMonitor {
	return &BehaviorMonitor{log: log, moderation: moderation, cfg: cfg}
}

// Signal names the monitor's drift signal.
func (m *BehaviorMonitor) Signal() domain.Signal {
	return domain.SignalBehavior
}

// Detect compares the two windows. Fails with domain.ErrDataInsufficient
// when either window has no interactions.
func (m *BehaviorMonitor) Detect(ctx context.Context, baseline, current domain.Window) (domain.MonitorResult, error) {
	base, err := m.log.InteractionsInWindow(ctx, baseline)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query baseline interactions: %w", err)
	}
	cur, err := m.log.InteractionsInWindow(ctx, current)
	if err != nil {
		return domain.MonitorResult{}, fmt.Errorf("query current interactions: %w", err)
	}

	if len(base) == 0 || len(cur) == 0 {
		return domain.MonitorResult{}, fmt.Errorf(
			"%w: baseline=%d current=%d interactions",
			domain.ErrDataInsufficient, len(base), len(cur))
	}

	baseRates := m.computeRates(ctx, base)
	curRates := m.computeRates(ctx, cur)

	refusalScore := relativeExcess(curRates.refusalRate, m.cfg.RefusalRateThreshold)
	toxicityScore := relativeExcess(curRates.toxicRate, m.cfg.ToxicityRateThreshold)
	errorScore := relativeExcess(curRates.errorRate, m.cfg.ErrorRateThreshold)
	lengthScore, lengthZ := m.lengthAnomaly(baseRates, curRates)

	score := refusalScore
	for _, s := range []float64{toxicityScore, errorScore, lengthScore} {
		if s > score {
			score = s
		}
	}

	details := map[string]any{
		"baseline_count":         baseRates.total,
		"current_count":          curRates.total,
		"refusal_rate_baseline":  baseRates.refusalRate,
		"refusal_rate_current":   curRates.refusalRate,
		"refusal_score":          refusalScore,
		"toxicity_rate_baseline": baseRates.toxicRate,
		"toxicity_rate_current":  curRates.toxicRate,
		"toxicity_score":         toxicityScore,
		"error_rate_baseline":    baseRates.errorRate,
		"error_rate_current":     curRates.errorRate,
		"error_score":            errorScore,
		"mean_length_baseline":   baseRates.meanLength,
		"mean_length_current":    curRates.meanLength,
		"length_zscore":          lengthZ,
		"length_score":           lengthScore,
	}

	// The decision engine routes toxicity breaches to the safety-filter
	// action instead of fine-tuning.
	if curRates.toxicRate >= m.cfg.ToxicityRateThreshold {
		details["toxicity_exceeded"] = true
	}

	logger.Debug("behavior drift: refusal=%.3f toxicity=%.3f error=%.3f length=%.3f -> %.3f",
		refusalScore, toxicityScore, errorScore, lengthScore, score)

	return domain.MonitorResult{
		Signal:  domain.SignalBehavior,
		Score:   score,
		Details: details,
	}, nil
}

// computeRates derives the window's behavioural rates, backfilling
// refusal flags lexically and toxicity flags via the moderation
// classifier where records arrived unflagged.
func (m *BehaviorMonitor) computeRates(ctx context.Context, records []domain.InteractionRecord) windowRates {
	var refusals, toxic, errs int
	lengths := make([]float64, len(records))

	var unflagged []int
	for i, r := range records {
		if r.RefusalFlag || isRefusal(r.ResponseText) {
			refusals++
		}
		if r.ToxicityFlag {
			toxic++
		} else if m.moderation != nil && len(unflagged) < moderationBackfillLimit {
			unflagged = append(unflagged, i)
		}
		if r.ErrorFlag {
			errs++
		}
		lengths[i] = float64(len(r.ResponseText))
	}

	toxic += m.backfillToxicity(ctx, records, unflagged)

	n := float64(len(records))
	mean, std := meanStd(lengths)
	return windowRates{
		total:       len(records),
		refusalRate: float64(refusals) / n,
		toxicRate:   float64(toxic) / n,
		errorRate:   float64(errs) / n,
		meanLength:  mean,
		stdLength:   std,
	}
}

// backfillToxicity classifies unflagged responses. Classifier failure
// is logged and ignored: the monitor must not fail a run because the
// moderation service is down.
func (m *BehaviorMonitor) backfillToxicity(ctx context.Context, records []domain.InteractionRecord, idx []int) int {
	if m.moderation == nil || len(idx) == 0 {
		return 0
	}

	texts := make([]string, len(idx))
	for i, j := range idx {
		texts[i] = records[j].ResponseText
	}
	verdicts, err := m.moderation.ClassifyBatch(ctx, texts)
	if err != nil {
		logger.Warn("moderation backfill failed, counting flagged records only: %v", err)
		return 0
	}

	var toxic int
	for _, v := range verdicts {
		if v.Toxic {
			toxic++
		}
	}
	return toxic
}

// lengthAnomaly scores the shift in mean response length. The z-score
// of the current mean against the baseline distribution is reported in
// details; the score itself is the relative change over the configured
// band, mirroring the rate normalisation.
func (m *BehaviorMonitor) lengthAnomaly(base, cur windowRates) (score, z float64) {
	if base.meanLength <= 0 {
		return 0, 0
	}
	change := cur.meanLength - base.meanLength
	if change < 0 {
		change = -change
	}
	if base.stdLength > 0 {
		z = (cur.meanLength - base.meanLength) / base.stdLength
	}
	return clamp01(change / base.meanLength / m.cfg.LengthChangeThreshold), z
}

// isRefusal reports whether the response matches a known refusal pattern.
func isRefusal(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range refusalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
