package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pulse/internal/models"
)

// Middleware returns HTTP middleware that enforces limiter. The identifier is
// the API key attached by the key validator when present, otherwise the client
// address. It must therefore run after the validator in the chain.
//
// When the limiter's store fails the request is let through and the failure
// logged, so a Redis outage degrades to no limiting rather than an outage.
func Middleware(limiter Limiter, trustProxyHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ResolveRequest(r, trustProxyHeaders)

			info, err := Check(r.Context(), limiter, id)
			var quotaErr *QuotaError
			if err != nil && !errors.As(err, &quotaErr) {
				slog.Error("Rate limit check failed, allowing request",
					"kind", id.Kind,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", info.ResetAt.UTC().Format(time.RFC3339Nano))

			if quotaErr != nil {
				writeQuotaExceeded(w, quotaErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeQuotaExceeded answers 429 with a Retry-After hint and logs the rejection.
func writeQuotaExceeded(w http.ResponseWriter, qe *QuotaError) {
	retryAfter := qe.Info.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResp := models.NewErrorResponse(
		fmt.Sprintf("Too many requests, limit of %d requests per %d minutes exceeded. Please try again later.",
			qe.Info.Limit, qe.Info.WindowMinutes()),
		models.ErrorCodeRateLimited,
	)
	errorResp.RetryAfter = retryAfter
	json.NewEncoder(w).Encode(errorResp)

	slog.Warn("Rate limit exceeded",
		"client", logValue(qe.Identifier),
		"retry_after", retryAfter,
		"error", qe,
	)
}

// logValue keeps full API keys out of logs.
func logValue(id Identifier) string {
	if id.Kind == KindKey {
		return models.KeyPrefix(id.Value)
	}
	return id.Value
}
