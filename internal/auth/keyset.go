package auth

import (
	"strings"
	"sync"

	"pulse/internal/models"
)

// KeySet is the allow-list of API keys. Keys are held as SHA-256 hashes so raw
// keys from configuration and hashes loaded from a key store share one lookup.
type KeySet struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

// NewKeySet builds a set from raw keys. Blank entries are ignored.
func NewKeySet(rawKeys ...string) *KeySet {
	ks := &KeySet{hashes: make(map[string]struct{}, len(rawKeys))}
	for _, k := range rawKeys {
		ks.Add(k)
	}
	return ks
}

// Add inserts a raw key.
func (ks *KeySet) Add(rawKey string) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return
	}
	ks.AddHash(models.HashAPIKey(rawKey))
}

// AddHash inserts an already hashed key, as stored by the key store.
func (ks *KeySet) AddHash(hash string) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.hashes[hash] = struct{}{}
}

// Contains reports whether rawKey is in the set.
func (ks *KeySet) Contains(rawKey string) bool {
	if rawKey == "" {
		return false
	}
	hash := models.HashAPIKey(rawKey)

	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.hashes[hash]
	return ok
}

func (ks *KeySet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.hashes)
}

// RemoveHash drops a hashed key, revoking it for subsequent requests.
func (ks *KeySet) RemoveHash(hash string) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.hashes, hash)
}
