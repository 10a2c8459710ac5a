package driven

import "github.com/custodia-labs/driftwatch/internal/core/domain"

// ConfigStore loads engine configuration.
// Implementations merge file contents over defaults and apply
// environment overrides for secrets.
type ConfigStore interface {
	// Engine returns the validated engine configuration.
	// Fails with domain.ErrConfiguration on invalid values.
	Engine() (domain.EngineConfig, error)

	// GetString retrieves an adapter setting (API keys, base URLs,
	// database path). Returns "" when unset.
	GetString(key string) string
}
