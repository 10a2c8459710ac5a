// Package prometheus exposes drift scores and action counters for
// scraping via the Prometheus client library.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// Ensure Publisher implements the interface.
var _ driven.MetricsPublisher = (*Publisher)(nil)

// Publisher implements driven.MetricsPublisher on a private registry so
// tests and embedding applications do not collide on the default one.
type Publisher struct {
	registry *prometheus.Registry

	embeddingScore prometheus.Gauge
	behaviorScore  prometheus.Gauge
	accuracyScore  prometheus.Gauge
	overallScore   prometheus.Gauge
	modelAccuracy  prometheus.Gauge
	refusalRate    prometheus.Gauge
	toxicityRate   prometheus.Gauge
	apiCost        prometheus.Gauge

	actionEvents map[domain.ActionType]prometheus.Counter
}

// NewPublisher creates a metrics publisher with all collectors registered.
// Metric names are a scrape contract shared with existing dashboards and
// must not change.
func NewPublisher() *Publisher {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		})
		registry.MustRegister(g)
		return g
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: help,
		})
		registry.MustRegister(c)
		return c
	}

	p := &Publisher{
		registry:       registry,
		embeddingScore: gauge("drift_embedding_score", "Embedding drift score from the last run, in [0,1]."),
		behaviorScore:  gauge("drift_behavior_score", "Behavior drift score from the last run, in [0,1]."),
		accuracyScore:  gauge("drift_accuracy_score", "Accuracy drift score from the last run, in [0,1]."),
		overallScore:   gauge("drift_overall_score", "Maximum of the per-signal drift scores from the last run."),
		modelAccuracy:  gauge("model_accuracy", "Current window evaluation accuracy of the active model."),
		refusalRate:    gauge("model_refusal_rate", "Current window refusal rate."),
		toxicityRate:   gauge("model_toxicity_rate", "Current window toxicity rate."),
		apiCost:        gauge("api_cost_usd_total", "Cumulative external API spend in USD."),
	}

	p.actionEvents = map[domain.ActionType]prometheus.Counter{
		domain.ActionFineTune:            counter("retrain_events_total", "Total number of retraining events."),
		domain.ActionReindex:             counter("reindex_events_total", "Total number of document reindexing events."),
		domain.ActionUpdateSafetyFilters: counter("safety_filter_events_total", "Total number of safety filter updates."),
	}

	return p
}

// PublishRun updates all gauges from a completed run. Negative rate and
// accuracy values mean the monitor was skipped and leave the previous
// gauge value standing.
func (p *Publisher) PublishRun(m driven.RunMetrics) {
	p.embeddingScore.Set(m.EmbeddingScore)
	p.behaviorScore.Set(m.BehaviorScore)
	p.accuracyScore.Set(m.AccuracyScore)
	p.overallScore.Set(m.OverallScore)

	if m.ModelAccuracy >= 0 {
		p.modelAccuracy.Set(m.ModelAccuracy)
	}
	if m.RefusalRate >= 0 {
		p.refusalRate.Set(m.RefusalRate)
	}
	if m.ToxicityRate >= 0 {
		p.toxicityRate.Set(m.ToxicityRate)
	}
	if m.APICostUSD > 0 {
		p.apiCost.Set(m.APICostUSD)
	}
}

// CountAction increments the counter for a dispatched action type.
func (p *Publisher) CountAction(t domain.ActionType) {
	if c, ok := p.actionEvents[t]; ok {
		c.Inc()
	}
}

// AddCost adds to the cumulative API cost gauge.
func (p *Publisher) AddCost(usd float64) {
	p.apiCost.Add(usd)
}

// Handler returns an HTTP handler serving the registry in the
// Prometheus exposition format.
func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
