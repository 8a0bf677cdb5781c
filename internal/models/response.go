// Package models - API response types and error handling.
// This file defines the outgoing JSON envelopes shared by every endpoint.
//
// Response Design Principles:
// - Every body carries a boolean "success" discriminator
// - Errors carry a human-readable "error" message and an optional code
// - Rate limit rejections add "retryAfter" in whole seconds
// - Timestamps are RFC3339 in UTC
package models

import (
	"time"
)

// ErrorResponse is the envelope for every rejected or failed request.
type ErrorResponse struct {
	Success    bool      `json:"success"`              // Always false
	Error      string    `json:"error"`                // Human-readable error description
	Code       string    `json:"code,omitempty"`       // Machine-readable error code
	Details    string    `json:"details,omitempty"`    // Optional extra context
	RetryAfter int       `json:"retryAfter,omitempty"` // Seconds until a retry may succeed
	Timestamp  time.Time `json:"timestamp"`            // Error occurrence time
	RequestID  string    `json:"request_id,omitempty"` // Unique request identifier
}

// SuccessResponse wraps successful payloads produced by the gateway itself.
// Forwarded upstream bodies are written verbatim and never wrapped.
type SuccessResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

type WelcomeResponse struct {
	Message     string            `json:"message"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Status      string            `json:"status"`
	Endpoints   map[string]string `json:"endpoints"`
}

type APIInfoResponse struct {
	Message         string   `json:"message"`
	Version         string   `json:"version"`
	Description     string   `json:"description"`
	AvailableRoutes []string `json:"availableRoutes"`
}

type ServiceStatusResponse struct {
	Message    string `json:"message"`
	Configured bool   `json:"configured"`
	Version    string `json:"version"`
}

// LimiterStats describes one limiter instance for the admin endpoint.
type LimiterStats struct {
	Name        string `json:"name"`
	Window      string `json:"window"`
	Max         int    `json:"max"`
	MaxPerKey   int    `json:"maxPerKey"`
	Identifiers int    `json:"identifiers"`
}

// Standard error codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeForbidden          = "FORBIDDEN"
	ErrorCodeInvalidToken       = "INVALID_TOKEN"
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorCodeBadGateway         = "BAD_GATEWAY"
	ErrorCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

func NewSuccessResponse(message string, data interface{}) *SuccessResponse {
	return &SuccessResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func NewHealthCheckResponse(status, message string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
