package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// keyRandomBytes yields 48 hex characters after encoding.
const keyRandomBytes = 24

var apiKeyFormat = regexp.MustCompile(`^sk-[a-z0-9]+-[a-f0-9]{48}$`)

// APIKey represents a stored API key. The raw key value is never persisted;
// only its SHA-256 hex hash and a short display prefix are stored.
type APIKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"key_hash"`
	Prefix    string    `json:"prefix"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAPIKey creates a new enabled APIKey from a raw key string.
func NewAPIKey(id, name, rawKey string) *APIKey {
	now := time.Now().UTC()
	return &APIKey{
		ID:        id,
		Name:      name,
		KeyHash:   HashAPIKey(rawKey),
		Prefix:    KeyPrefix(rawKey),
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GenerateAPIKey produces a new random API key in the format
// sk-<environment>-<48 lowercase hex chars>.
func GenerateAPIKey(environment string) (string, error) {
	if environment == "" {
		environment = "dev"
	}
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return fmt.Sprintf("sk-%s-%s", environment, hex.EncodeToString(b)), nil
}

// GenerateAPIKeys produces count keys for the given environment.
func GenerateAPIKeys(count int, environment string) ([]string, error) {
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		k, err := GenerateAPIKey(environment)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// IsValidAPIKeyFormat reports whether rawKey matches the generated key format.
// Keys configured by hand are not required to pass this check.
func IsValidAPIKeyFormat(rawKey string) bool {
	return apiKeyFormat.MatchString(rawKey)
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the first 12 characters of a key for display and logs.
func KeyPrefix(rawKey string) string {
	if len(rawKey) > 12 {
		return rawKey[:12]
	}
	return rawKey
}

// NewKeyID generates a new UUID v4 for use as an APIKey ID.
func NewKeyID() string {
	return uuid.New().String()
}
