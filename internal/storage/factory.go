package storage

import (
	"fmt"

	"pulse/internal/models"
)

// Factory provides a centralized way to create key stores based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a key store based on the provided configuration.
// Supported providers:
//   - memory: In-memory storage (for testing/development)
//   - json: single JSON file, re-read when modified
//   - sqlite: SQLite database storage (lightweight database)
//   - postgres: PostgreSQL database storage (shared between replicas)
//
// The "none" type yields a nil store and nil error: keys come from
// configuration only.
func (f *Factory) Create(config models.KeyStoreConfig) (KeyStore, error) {
	storageConfig := Config{
		Type:             config.Type,
		ConnectionString: config.DSN,
	}

	switch config.Type {
	case models.KeyStoreNone, "":
		return nil, nil
	case models.KeyStoreMemory:
		return NewMemoryStorage(storageConfig)
	case models.KeyStoreJSON:
		return NewJSONStorage(storageConfig)
	case models.KeyStorePostgres:
		return NewPostgresStorage(storageConfig)
	case models.KeyStoreSQLite:
		return NewSQLiteStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported key store type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported key store types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.KeyStoreNone, models.KeyStoreMemory, models.KeyStoreJSON, models.KeyStorePostgres, models.KeyStoreSQLite}
}

// ValidateConfig validates that a key store configuration is valid for its type
func (f *Factory) ValidateConfig(config models.KeyStoreConfig) error {
	switch config.Type {
	case models.KeyStoreNone, models.KeyStoreMemory:
	case models.KeyStoreJSON, models.KeyStorePostgres, models.KeyStoreSQLite:
		if config.DSN == "" {
			return fmt.Errorf("DSN is required for %s key store", config.Type)
		}
	default:
		return fmt.Errorf("unsupported key store type: %s", config.Type)
	}
	return nil
}
