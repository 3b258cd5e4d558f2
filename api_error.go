// Structured error taxonomy used by every gatekit component.
//
// Errors render as a Stripe-style JSON envelope:
//
//	{"error": {"code": "...", "message": "...", "type": "...", "details": {...}}}
//
// Each kind maps to a fixed HTTP status and a stable machine-readable code so
// callers can branch on Code without parsing messages.
package gatekit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error type categories.
const (
	TypeRateLimit      = "rate_limit"
	TypeAuthentication = "authentication"
	TypeBackend        = "backend"
	TypeServer         = "server"
	TypeClient         = "client"
	TypeCustom         = "custom"
)

// Stable machine-readable error codes.
const (
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeAPIKeyMissing       = "API_KEY_MISSING"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeStoreError          = "STORE_ERROR"
	CodeConnectionPoolError = "CONNECTION_POOL_ERROR"
	CodeConfigurationError  = "CONFIGURATION_ERROR"
	CodeSerializationError  = "SERIALIZATION_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
	CodeCustom              = "CUSTOM_ERROR"
)

// APIError represents a structured API error response.
type APIError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error kinds. Two APIErrors match when
// type and code agree, regardless of message or details.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// Retryable reports whether the caller may retry the request later. Only
// quota rejections and backend failures are retryable; validation failures
// are terminal.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeRateLimitExceeded, CodeStoreError, CodeConnectionPoolError:
		return true
	}
	return false
}

// RetryAfter returns the wait hint in seconds for rate limit errors, or zero.
func (e *APIError) RetryAfter() int64 {
	if e.Code != CodeRateLimitExceeded {
		return 0
	}
	secs, _ := e.Details["retry_after"].(int64)
	return secs
}

// WriteJSON renders the error to w with its status code and, for rate limit
// errors, the Retry-After and X-RateLimit-* headers.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	if e.Code == CodeRateLimitExceeded {
		retryAfter, _ := e.Details["retry_after"].(int64)
		limit, _ := e.Details["limit"].(int64)
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: e})
}

// Predefined sentinel errors for the parameterless kinds.
var (
	ErrAPIKeyMissing = &APIError{Type: TypeAuthentication, Code: CodeAPIKeyMissing, Message: "API key is required but not provided", Status: http.StatusUnauthorized}
	ErrStore         = &APIError{Type: TypeBackend, Code: CodeStoreError, Message: "Backend store error", Status: http.StatusServiceUnavailable}
	ErrPool          = &APIError{Type: TypeBackend, Code: CodeConnectionPoolError, Message: "Connection pool error", Status: http.StatusServiceUnavailable}
	ErrInternal      = &APIError{Type: TypeServer, Code: CodeInternal, Message: "Internal server error", Status: http.StatusInternalServerError}
)

// RateLimitExceeded creates a quota rejection carrying the remaining slots,
// the retry hint, and the limit in its details.
func RateLimitExceeded(remaining int, retryAfter time.Duration, limit int) *APIError {
	secs := int64(retryAfter.Seconds())
	return &APIError{
		Type:    TypeRateLimit,
		Code:    CodeRateLimitExceeded,
		Message: fmt.Sprintf("Rate limit exceeded: %d requests remaining, retry after %ds", remaining, secs),
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{
			"remaining":   int64(remaining),
			"retry_after": secs,
			"limit":       int64(limit),
		},
	}
}

// InvalidAPIKey creates a key rejection. The key is truncated to a hint so
// the full credential never appears in responses or logs.
func InvalidAPIKey(key string) *APIError {
	hint := key
	if len(hint) > 8 {
		hint = hint[:8] + "..."
	}
	return &APIError{
		Type:    TypeAuthentication,
		Code:    CodeInvalidAPIKey,
		Message: fmt.Sprintf("Invalid API key: %s", hint),
		Status:  http.StatusUnauthorized,
	}
}

// StoreError wraps a backend failure. Store failures always fail closed.
func StoreError(message string) *APIError {
	return ErrStore.With(message)
}

// ConfigurationError reports an unusable quota or middleware setup.
func ConfigurationError(message string) *APIError {
	return &APIError{Type: TypeServer, Code: CodeConfigurationError, Message: message, Status: http.StatusInternalServerError}
}

// SerializationError reports a payload that could not be decoded.
func SerializationError(message string) *APIError {
	return &APIError{Type: TypeClient, Code: CodeSerializationError, Message: message, Status: http.StatusBadRequest}
}

// CustomError creates an application-defined error with an optional status
// override; zero status defaults to 500.
func CustomError(message string, status int) *APIError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &APIError{Type: TypeCustom, Code: CodeCustom, Message: message, Status: status}
}
