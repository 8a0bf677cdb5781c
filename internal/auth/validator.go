package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"pulse/internal/models"
)

const (
	// HeaderAPIKey carries the presented key. It takes precedence over QueryAPIKey.
	HeaderAPIKey = "X-API-Key"
	QueryAPIKey  = "api_key"
)

var (
	// ErrAuthenticationRequired is returned when key auth is enabled and no key was presented.
	ErrAuthenticationRequired = errors.New("API key is required")
	// ErrInvalidCredential is returned when the presented key is not in the allow-list.
	ErrInvalidCredential = errors.New("invalid API key")
)

// Validator checks presented API keys against a KeySet. A disabled validator
// admits every request and attaches nothing, which makes the rate limiter fall
// back to address-based identifiers.
type Validator struct {
	enabled bool
	keys    *KeySet
}

func NewValidator(enabled bool, keys *KeySet) *Validator {
	if keys == nil {
		keys = NewKeySet()
	}
	return &Validator{enabled: enabled, keys: keys}
}

func (v *Validator) Enabled() bool {
	return v.enabled
}

// ExtractKey returns the key presented by r, reading the X-API-Key header
// first and the api_key query parameter second.
func ExtractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
}

// Validate classifies a presented key. It does no I/O.
func (v *Validator) Validate(key string) error {
	if !v.enabled {
		return nil
	}
	if key == "" {
		return ErrAuthenticationRequired
	}
	if !v.keys.Contains(key) {
		return ErrInvalidCredential
	}
	return nil
}

// Middleware rejects requests without a valid key with 401 or 403 and attaches
// the key to the context of the ones it admits.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := ExtractKey(r)
			err := v.Validate(key)
			switch {
			case errors.Is(err, ErrAuthenticationRequired):
				slog.Warn("API key missing", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized,
					"API key is required. Provide it in the X-API-Key header or the api_key query parameter.",
					models.ErrorCodeUnauthorized)
				return
			case errors.Is(err, ErrInvalidCredential):
				slog.Warn("Invalid API key", "remote_addr", r.RemoteAddr, "prefix", models.KeyPrefix(key))
				writeError(w, http.StatusForbidden, "Invalid API key.", models.ErrorCodeForbidden)
				return
			}

			slog.Debug("API key accepted", "prefix", models.KeyPrefix(key))
			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
