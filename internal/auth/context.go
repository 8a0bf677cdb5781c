// Package auth authenticates inbound requests. The API key validator checks
// the presented key against an allow-list and attaches it to the request
// context for downstream stages; the bearer middleware guards administrative
// routes with HS256 JWTs.
package auth

import "context"

type contextKey int

const (
	apiKeyContextKey contextKey = iota
	claimsContextKey
)

// WithAPIKey returns a copy of ctx carrying the validated API key.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// APIKeyFromContext returns the API key attached by the validator, if any.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(string)
	return key, ok && key != ""
}

// ClaimsFromContext returns the bearer token claims attached by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*Claims)
	return c, ok
}
