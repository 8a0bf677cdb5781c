package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulse/internal/models"
)

// MemoryStorage implements KeyStore in memory. Keys vanish with the process,
// so it suits tests and development setups that provision keys at startup.
type MemoryStorage struct {
	mu           sync.RWMutex
	apiKeys      map[string]*models.APIKey // keyed by ID
	apiKeyHashes map[string]string         // hash -> ID
}

// NewMemoryStorage creates a new in-memory key store
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
	}, nil
}

// CreateAPIKey stores a new API key in memory.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiKeys[key.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.apiKeyHashes[key.KeyHash]; ok {
		return ErrDuplicate
	}
	m.apiKeys[key.ID] = copyKey(key)
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.apiKeyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyKey(m.apiKeys[id]), nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (m *MemoryStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		out = append(out, copyKey(k))
	}
	sortKeys(out)
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiKeys[key.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyKey(existing)
	updated.Name = key.Name
	updated.Enabled = key.Enabled
	updated.UpdatedAt = time.Now().UTC()
	m.apiKeys[key.ID] = updated
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.apiKeyHashes, k.KeyHash)
	delete(m.apiKeys, id)
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all keys.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys = make(map[string]*models.APIKey)
	m.apiKeyHashes = make(map[string]string)
	return nil
}

// sortKeys orders keys by creation time, then ID for a stable listing.
func sortKeys(keys []*models.APIKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
}
