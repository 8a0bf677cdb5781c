package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pulse/internal/models"
)

// jsonCacheTTL bounds how long an externally edited key file can go unnoticed.
const jsonCacheTTL = 30 * time.Second

// JSONStorage implements KeyStore on a single JSON file. It keeps the decoded
// file cached and re-reads it when the modification time changes, so keys
// added with cmd/keygen by another process show up without a restart.
type JSONStorage struct {
	filePath     string
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	APIKeys     []*models.APIKey `json:"api_keys"`
	LastUpdated time.Time        `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based key store
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("path is required for JSON key store")
	}

	storage := &JSONStorage{filePath: config.ConnectionString}

	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return j.saveData(&JSONData{APIKeys: []*models.APIKey{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.loadLocked()
}

// loadLocked refreshes the cache. Callers hold j.mu for writing.
func (j *JSONStorage) loadLocked() error {
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(jsonCacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(jsonCacheTTL)
	return nil
}

// saveData writes data through a temporary file and rename so readers never
// observe a partially written file.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	j.data = data
	j.cacheExpiry = time.Now().Add(jsonCacheTTL)
	return nil
}

// mutate applies fn to a fresh copy of the data and persists the result.
func (j *JSONStorage) mutate(fn func(data *JSONData) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Always re-read before writing so writers in other processes are not clobbered.
	j.data = nil
	if err := j.loadLocked(); err != nil {
		return err
	}

	next := &JSONData{APIKeys: make([]*models.APIKey, 0, len(j.data.APIKeys))}
	for _, k := range j.data.APIKeys {
		next.APIKeys = append(next.APIKeys, copyKey(k))
	}
	if err := fn(next); err != nil {
		return err
	}
	return j.saveData(next)
}

func (j *JSONStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	return j.mutate(func(data *JSONData) error {
		for _, k := range data.APIKeys {
			if k.ID == key.ID || k.KeyHash == key.KeyHash {
				return ErrDuplicate
			}
		}
		data.APIKeys = append(data.APIKeys, copyKey(key))
		return nil
	})
}

func (j *JSONStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, k := range j.data.APIKeys {
		if k.KeyHash == hash {
			return copyKey(k), nil
		}
	}
	return nil, ErrNotFound
}

func (j *JSONStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	out := make([]*models.APIKey, 0, len(j.data.APIKeys))
	for _, k := range j.data.APIKeys {
		out = append(out, copyKey(k))
	}
	j.mu.RUnlock()

	sortKeys(out)
	return out, nil
}

func (j *JSONStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	return j.mutate(func(data *JSONData) error {
		for _, k := range data.APIKeys {
			if k.ID == key.ID {
				k.Name = key.Name
				k.Enabled = key.Enabled
				k.UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		return ErrNotFound
	})
}

func (j *JSONStorage) DeleteAPIKey(ctx context.Context, id string) error {
	return j.mutate(func(data *JSONData) error {
		for i, k := range data.APIKeys {
			if k.ID == id {
				data.APIKeys = append(data.APIKeys[:i], data.APIKeys[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

// Ping verifies the key file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("key file unavailable: %w", err)
	}
	return nil
}

// Close drops the cache.
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.data = nil
	j.cacheExpiry = time.Time{}
	return nil
}
