// Package apikey provides tiered API key validation middleware.
//
// Validation runs before rate limiting: a fast primary validator (an
// in-process or Redis cache) is consulted first, then an optional
// authoritative fallback (typically a database lookup). Keys accepted by the
// fallback are opportunistically written back into the primary cache so the
// slow path is paid once per key.
//
// A validated key becomes the request's rate limit identity, and a per-key
// quota override from the validator takes precedence over the route default:
//
//	keys := apikey.NewStatic(gatekit.DefaultConfig()).
//	    WithKey("prod-key", gatekit.Config{MaxRequests: 1000, Window: time.Hour})
//
//	r.Use(apikey.New(cache, apikey.WithFallback(keys)).Handler)
//	r.Use(limiter.Handler)
package apikey

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatekit/gatekit"
)

// Default middleware settings.
const (
	DefaultHeader   = "x-api-key"
	DefaultCacheTTL = time.Hour
)

// Validation is the result of checking one API key.
type Validation struct {
	Valid bool

	// KeyID identifies the validated key, usually the key itself or the
	// account it belongs to.
	KeyID string

	// Config is the per-key quota override, nil when the key uses the
	// route default.
	Config *gatekit.Config
}

// Valid returns a successful validation without a quota override.
func Valid(keyID string) Validation {
	return Validation{Valid: true, KeyID: keyID}
}

// ValidWithConfig returns a successful validation carrying a per-key quota.
func ValidWithConfig(keyID string, cfg gatekit.Config) Validation {
	return Validation{Valid: true, KeyID: keyID, Config: &cfg}
}

// Invalid returns a failed validation.
func Invalid() Validation {
	return Validation{}
}

// Validator checks API keys. Implementations must be safe for concurrent use.
type Validator interface {
	ValidateKey(ctx context.Context, key string) (Validation, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, key string) (Validation, error)

func (f ValidatorFunc) ValidateKey(ctx context.Context, key string) (Validation, error) {
	return f(ctx, key)
}

// KeyCacher is implemented by validators that can store keys validated
// elsewhere. Cache writes are best effort; a failure never fails the request
// that triggered it.
type KeyCacher interface {
	CacheKey(ctx context.Context, key string, cfg *gatekit.Config, ttl time.Duration) error
}

// Middleware validates API keys from a configurable header and hands the
// resulting identity and effective quota to the admission middleware via the
// request context.
type Middleware struct {
	primary  Validator
	fallback Validator
	header   string
	required bool
	cacheTTL time.Duration
	routeCfg *gatekit.Config
	logger   *slog.Logger
}

// Option configures the Middleware.
type Option func(*Middleware)

// WithFallback sets the authoritative validator consulted when the primary
// rejects a key. Keys it accepts are cached into the primary when the
// primary implements KeyCacher.
func WithFallback(v Validator) Option {
	return func(m *Middleware) {
		m.fallback = v
	}
}

// WithHeader sets the header the key is read from. Default "x-api-key".
func WithHeader(name string) Option {
	return func(m *Middleware) {
		m.header = name
	}
}

// WithOptional lets requests without a key through unvalidated; they fall
// back to the normal identity resolution chain downstream.
func WithOptional() Option {
	return func(m *Middleware) {
		m.required = false
	}
}

// WithCacheTTL sets how long fallback-validated keys stay in the primary
// cache. Default one hour.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Middleware) {
		m.cacheTTL = ttl
	}
}

// WithConfig sets the quota handed to the admission middleware for keys that
// have no per-key override. Without it, the admission middleware's own route
// config applies.
func WithConfig(cfg gatekit.Config) Option {
	return func(m *Middleware) {
		m.routeCfg = &cfg
	}
}

// WithLogger sets the logger for cache population failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = l
	}
}

// New creates API key middleware with the given primary validator.
func New(primary Validator, opts ...Option) *Middleware {
	m := &Middleware{
		primary:  primary,
		header:   DefaultHeader,
		required: true,
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler returns the validation middleware.
//
// A missing key on a required route is rejected with 401 API_KEY_MISSING
// before any validator or store is consulted. A key rejected by both tiers
// yields 401 INVALID_API_KEY with a truncated hint.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.header)

		if key == "" {
			if !m.required {
				next.ServeHTTP(w, r)
				return
			}
			gatekit.ErrAPIKeyMissing.WriteJSON(w)
			return
		}

		validation := m.validate(r.Context(), key)
		if !validation.Valid {
			gatekit.InvalidAPIKey(key).WriteJSON(w)
			return
		}

		cfg := m.routeCfg
		if validation.Config != nil {
			cfg = validation.Config
		}

		ctx := gatekit.WithResolved(r.Context(), gatekit.APIKey(key), cfg)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validate runs the two validation tiers. Validator errors are treated as a
// rejection of that tier, not of the request, so a flaky cache degrades to
// the authoritative fallback.
func (m *Middleware) validate(ctx context.Context, key string) Validation {
	validation, err := m.primary.ValidateKey(ctx, key)
	if err != nil {
		m.logger.Warn("primary API key validation failed", "error", err)
		validation = Invalid()
	}
	if validation.Valid || m.fallback == nil {
		return validation
	}

	validation, err = m.fallback.ValidateKey(ctx, key)
	if err != nil {
		m.logger.Warn("fallback API key validation failed", "error", err)
		return Invalid()
	}
	if !validation.Valid {
		return validation
	}

	if cacher, ok := m.primary.(KeyCacher); ok {
		if err := cacher.CacheKey(ctx, key, validation.Config, m.cacheTTL); err != nil {
			m.logger.Warn("failed to cache API key", "error", err)
		}
	}

	return validation
}
