package storage

import (
	"context"

	"pulse/internal/models"
)

// KeyStore persists hashed API keys. Raw keys never reach a KeyStore; lookups
// go through the SHA-256 hash computed by models.HashAPIKey. Implementations
// exist for memory, a JSON file, SQLite and PostgreSQL so the same
// provisioning flow works from a laptop to a shared database.
type KeyStore interface {
	// CreateAPIKey stores a new key. Returns ErrDuplicate if the ID or hash is taken.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByHash retrieves a key by its hash. Returns ErrNotFound if absent.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns all keys, enabled and disabled, oldest first.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey replaces the name and enabled flag of an existing key.
	// Returns ErrNotFound if the key does not exist.
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey permanently removes a key by ID. Returns ErrNotFound if absent.
	DeleteAPIKey(ctx context.Context, id string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Config holds configuration for key store backends
type Config struct {
	// Type specifies the backend (memory, json, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is the file path for json and sqlite, the DSN for postgres
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
}
