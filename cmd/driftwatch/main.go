package main

import (
	"fmt"
	"net/http"
	"os"

	configfile "github.com/custodia-labs/driftwatch/internal/adapters/driven/config/file"
	"github.com/custodia-labs/driftwatch/internal/adapters/driven/embedding/ollama"
	embeddingopenai "github.com/custodia-labs/driftwatch/internal/adapters/driven/embedding/openai"
	prommetrics "github.com/custodia-labs/driftwatch/internal/adapters/driven/metrics/prometheus"
	moderationopenai "github.com/custodia-labs/driftwatch/internal/adapters/driven/moderation/openai"
	"github.com/custodia-labs/driftwatch/internal/adapters/driven/storage/sqlite"
	trainingopenai "github.com/custodia-labs/driftwatch/internal/adapters/driven/training/openai"
	"github.com/custodia-labs/driftwatch/internal/adapters/driving/cli"
	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/core/services"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cli.SetVersion(version)

	cfgStore, err := configfile.NewConfigStore(os.Getenv("DRIFTWATCH_CONFIG_DIR"))
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}

	engineCfg, err := cfgStore.Engine()
	if err != nil {
		return err
	}

	store, err := sqlite.NewStore(cfgStore.GetString("storage.path"))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	publisher := prommetrics.NewPublisher()
	if engineCfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", publisher.Handler())
		go func() {
			if err := http.ListenAndServe(engineCfg.MetricsListen, mux); err != nil {
				logger.Warn("metrics listener stopped: %v", err)
			}
		}()
	}

	apiKey := cfgStore.GetString("openai.api_key")

	embedder, err := buildEmbedder(cfgStore, apiKey, publisher)
	if err != nil {
		return err
	}
	defer embedder.Close()

	// Moderation backfill and fine-tuning need the hosted API; without
	// a key the behavior monitor counts pre-flagged toxicity only and
	// fine-tune dispatches fail with a clear error.
	var moderation driven.ModerationClassifier
	var training driven.TrainingService
	if apiKey != "" {
		mc, err := moderationopenai.NewModerationClassifier(moderationopenai.Config{
			APIKey:  apiKey,
			BaseURL: cfgStore.GetString("openai.base_url"),
			Model:   cfgStore.GetString("moderation.model"),
		})
		if err != nil {
			return err
		}
		moderation = mc

		ts, err := trainingopenai.NewTrainingService(trainingopenai.Config{
			APIKey:    apiKey,
			BaseURL:   cfgStore.GetString("openai.base_url"),
			BaseModel: cfgStore.GetString("training.base_model"),
		})
		if err != nil {
			return err
		}
		training = ts
	}

	monitors := services.NewMonitors(
		services.NewEmbeddingMonitor(store.EmbeddingLog(), domain.EmbeddingKindQuery, engineCfg),
		services.NewBehaviorMonitor(store.InteractionLog(), moderation, engineCfg),
		services.NewAccuracyMonitor(store.EvaluationLog(), store.InteractionLog(), engineCfg),
	)

	reindexer := services.NewReindexer(store.DocumentStore(), embedder)
	tuner := services.NewFineTuner(
		store.InteractionLog(),
		store.EvaluationLog(),
		store.ModelVersionStore(),
		store.DriftEventStore(),
		training,
		engineCfg,
	)
	safety := services.NewSafetyFilterUpdater(store.SafetyPolicyStore())
	execs := services.NewExecutors(reindexer, tuner, safety, engineCfg)

	engine := services.NewOrchestrator(
		engineCfg,
		monitors,
		services.NewDecisionEngine(engineCfg),
		execs,
		tuner,
		store.DriftEventStore(),
		store.RunLockStore(),
		publisher,
	)

	cli.Configure(
		engine,
		services.NewApprovalService(store.DriftEventStore(), execs, publisher),
		services.NewEventService(store.DriftEventStore()),
	)

	return cli.Execute()
}

// buildEmbedder selects the embedding provider. The hosted API is the
// default when a key is configured; otherwise a local Ollama server
// serves embeddings so document content never leaves the host.
func buildEmbedder(cfgStore *configfile.ConfigStore, apiKey string, publisher *prommetrics.Publisher) (driven.EmbeddingService, error) {
	provider := cfgStore.GetString("embedding.provider")
	if provider == "" {
		if apiKey != "" {
			provider = "openai"
		} else {
			provider = "ollama"
		}
	}

	switch provider {
	case "openai":
		svc, err := embeddingopenai.NewEmbeddingService(embeddingopenai.Config{
			APIKey:     apiKey,
			BaseURL:    cfgStore.GetString("openai.base_url"),
			Model:      cfgStore.GetString("embedding.model"),
			Dimensions: cfgStore.GetInt("embedding.dimensions"),
			CostSink:   publisher.AddCost,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	case "ollama":
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfgStore.GetString("ollama.base_url"),
			Model:      cfgStore.GetString("embedding.model"),
			Dimensions: cfgStore.GetInt("embedding.dimensions"),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrConfiguration, provider)
	}
}
