package file

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// envOverrides maps config keys to environment variables that take
// precedence over the file. Secrets belong in the environment, not on
// disk.
var envOverrides = map[string]string{
	"openai.api_key": "OPENAI_API_KEY",
	"storage.path":   "DRIFTWATCH_DB",
}

// ConfigStore is a file-based implementation of driven.ConfigStore using TOML.
// Configuration is stored in a TOML file within the driftwatch config directory.
type ConfigStore struct {
	mu       sync.RWMutex
	filePath string
	data     map[string]any
}

// NewConfigStore creates a new TOML-based config store.
// If configDir is empty, defaults to ~/.driftwatch/config.toml.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".driftwatch")
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	s := &ConfigStore{
		filePath: filepath.Join(configDir, "config.toml"),
		data:     make(map[string]any),
	}

	// Load existing data if file exists
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Engine returns the engine configuration: production defaults overlaid
// with values from the [engine] table, validated before use.
func (s *ConfigStore) Engine() (domain.EngineConfig, error) {
	cfg := domain.DefaultEngineConfig()

	s.overrideInt("engine.baseline_days", &cfg.BaselineDays)
	s.overrideInt("engine.current_days", &cfg.CurrentDays)
	s.overrideInt("engine.min_samples", &cfg.MinSamples)
	s.overrideInt("engine.kmeans_k", &cfg.KMeansK)
	s.overrideFloat("engine.distance_threshold", &cfg.DistanceThreshold)
	s.overrideFloat("engine.silhouette_threshold", &cfg.SilhouetteThreshold)
	s.overrideFloat("engine.variance_threshold", &cfg.VarianceThreshold)
	s.overrideFloat("engine.refusal_rate_threshold", &cfg.RefusalRateThreshold)
	s.overrideFloat("engine.toxicity_rate_threshold", &cfg.ToxicityRateThreshold)
	s.overrideFloat("engine.error_rate_threshold", &cfg.ErrorRateThreshold)
	s.overrideFloat("engine.length_change_threshold", &cfg.LengthChangeThreshold)
	s.overrideFloat("engine.accuracy_threshold", &cfg.AccuracyThreshold)
	s.overrideFloat("engine.feedback_threshold", &cfg.FeedbackThreshold)
	s.overrideFloat("engine.embedding_threshold", &cfg.EmbeddingThreshold)
	s.overrideFloat("engine.behavior_threshold", &cfg.BehaviorThreshold)
	s.overrideInt("engine.cooldown_days", &cfg.CooldownDays)
	s.overrideBool("engine.dry_run", &cfg.DryRun)
	s.overrideBool("engine.require_approval", &cfg.RequireApproval)
	s.overrideFloat("engine.quality_threshold", &cfg.QualityThreshold)
	s.overrideInt("engine.finetune_limit", &cfg.FinetuneLimit)
	s.overrideFloat("engine.promotion_tolerance", &cfg.PromotionTolerance)
	s.overrideFloat("engine.safety_threshold_step", &cfg.SafetyThresholdStep)

	if minutes := s.GetInt("engine.lock_ttl_minutes"); minutes > 0 {
		cfg.LockTTL = time.Duration(minutes) * time.Minute
	}
	if listen := s.GetString("metrics.listen"); listen != "" {
		cfg.MetricsListen = listen
	}

	if err := cfg.Validate(); err != nil {
		return domain.EngineConfig{}, err
	}
	return cfg, nil
}

// Get retrieves a configuration value by key.
func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	return val, ok
}

// GetString retrieves a string configuration value. Keys with a
// registered environment override read the environment first.
func (s *ConfigStore) GetString(key string) string {
	if envVar, ok := envOverrides[key]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}

	val, ok := s.Get(key)
	if !ok {
		return ""
	}

	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}

// GetInt retrieves an integer configuration value.
func (s *ConfigStore) GetInt(key string) int {
	val, ok := s.Get(key)
	if !ok {
		return 0
	}

	// TOML integers are parsed as int64
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// GetFloat retrieves a float configuration value.
func (s *ConfigStore) GetFloat(key string) (float64, bool) {
	val, ok := s.Get(key)
	if !ok {
		return 0, false
	}

	switch v := val.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetBool retrieves a boolean configuration value.
func (s *ConfigStore) GetBool(key string) bool {
	val, ok := s.Get(key)
	if !ok {
		return false
	}

	b, ok := val.(bool)
	if !ok {
		return false
	}
	return b
}

// overrideInt replaces *dst when the key is present and positive.
func (s *ConfigStore) overrideInt(key string, dst *int) {
	if _, ok := s.Get(key); !ok {
		return
	}
	*dst = s.GetInt(key)
}

// overrideFloat replaces *dst when the key is present.
func (s *ConfigStore) overrideFloat(key string, dst *float64) {
	if v, ok := s.GetFloat(key); ok {
		*dst = v
	}
}

// overrideBool replaces *dst when the key is present. Presence matters:
// an explicit false must override a true default.
func (s *ConfigStore) overrideBool(key string, dst *bool) {
	val, ok := s.Get(key)
	if !ok {
		return
	}
	if b, ok := val.(bool); ok {
		*dst = b
	}
}

// Set stores a configuration value and persists immediately.
func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.save()
}

// Save persists the current configuration to disk.
func (s *ConfigStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes configuration to the TOML file (caller must hold lock).
func (s *ConfigStore) save() error {
	data, err := toml.Marshal(s.data)
	if err != nil {
		return err
	}

	// Write with restricted permissions
	return os.WriteFile(s.filePath, data, 0600)
}

// Load reads configuration from the TOML file.
func (s *ConfigStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet - that's fine, start empty
			s.data = make(map[string]any)
			return nil
		}
		return err
	}

	var loaded map[string]any
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return err
	}

	if loaded == nil {
		loaded = make(map[string]any)
	}

	// Flatten nested maps into dot-notation keys for easier access
	s.data = flattenMap(loaded, "")
	return nil
}

// flattenMap converts nested maps to dot-notation keys.
// E.g., {"a": {"b": 1}} becomes {"a.b": 1}.
func flattenMap(m map[string]any, prefix string) map[string]any {
	result := make(map[string]any)

	for key, value := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			// Recursively flatten nested maps
			for k, v := range flattenMap(nested, fullKey) {
				result[k] = v
			}
		} else {
			result[fullKey] = value
		}
	}

	return result
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}
