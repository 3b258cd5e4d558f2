// Package admission provides the rate limiting middleware that sits in front
// of application handlers.
//
// Per request the middleware resolves an identity, checks the quota against
// the counter store, and either forwards to the downstream handler or rejects
// with 429 and a structured error body. After the handler runs, the route's
// reset policy is evaluated against the response status so endpoints like
// login can clear their counters on success.
//
// Basic usage:
//
//	st := store.NewMemory()
//	defer st.Close()
//
//	limiter := admission.New(st, gatekit.Config{
//	    MaxRequests: 3,
//	    Window:      5 * time.Minute,
//	    Reset:       gatekit.OnSuccess(),
//	})
//	r.With(limiter.Handler).Post("/login", loginHandler)
//
// Payload-based identity extraction:
//
//	limiter := admission.New(st, cfg,
//	    admission.WithExtractor(resolve.JSON[LoginRequest]()),
//	)
package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nhalm/canonlog"
	"golang.org/x/sync/errgroup"

	"github.com/gatekit/gatekit"
	"github.com/gatekit/gatekit/resolve"
	"github.com/gatekit/gatekit/store"
)

// Middleware implements admission control for one route configuration.
type Middleware struct {
	store     store.Store
	cfg       gatekit.Config
	resolver  resolve.Resolver
	extractor resolve.Extractor
	logger    *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithResolver replaces the default identity resolution chain.
func WithResolver(r resolve.Resolver) Option {
	return func(m *Middleware) {
		m.resolver = r
	}
}

// WithExtractor enables payload-based identity extraction. The extractor runs
// before the resolution chain; when it declines, the chain decides. Routes
// without a typed payload leave this unset and skip body buffering entirely.
func WithExtractor(e resolve.Extractor) Option {
	return func(m *Middleware) {
		m.extractor = e
	}
}

// WithLogger sets the logger used for reset failures and store errors.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = l
	}
}

// New creates admission middleware enforcing cfg with the given store.
func New(st store.Store, cfg gatekit.Config, opts ...Option) *Middleware {
	m := &Middleware{
		store:    st,
		cfg:      cfg,
		resolver: resolve.Chain(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// statusRecorder captures the downstream status for reset-policy evaluation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler returns the admission middleware.
//
// Allowed responses carry X-RateLimit-Remaining, X-RateLimit-Limit and, when
// the window end is known, X-RateLimit-Reset (seconds). Rejections are 429
// with Retry-After, X-RateLimit-Remaining: 0, X-RateLimit-Limit and the
// structured error body. Store failures fail closed: the request is denied
// with the mapped backend error, never forwarded.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, cfg := m.resolveIdentity(r)

		bucket := gatekit.Bucket{
			Identity: identity,
			Path:     r.URL.Path,
			Method:   r.Method,
		}

		decision, err := m.store.Increment(r.Context(), bucket, cfg)
		if err != nil {
			apiErr := mapStoreError(err)
			m.logger.Warn("quota check failed",
				"identity", string(identity.Kind),
				"path", bucket.Path,
				"error", err,
			)
			m.annotateCanonical(r.Context(), identity, decision, true)
			apiErr.WriteJSON(w)
			return
		}

		m.annotateCanonical(r.Context(), identity, decision, !decision.Allowed)

		if !decision.Allowed {
			gatekit.RateLimitExceeded(decision.Remaining, decision.RetryAfter, cfg.MaxRequests).WriteJSON(w)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		if decision.ResetAfter > 0 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(decision.ResetAfter.Seconds()), 10))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.postProcess(r.Context(), bucket, cfg, rec.status)
	})
}

// resolveIdentity picks the identity and effective config for the request.
// An identity supplied by an upstream validator wins, then the payload
// extractor, then the fallback chain. Config precedence is validator override
// over route default.
func (m *Middleware) resolveIdentity(r *http.Request) (gatekit.Identity, gatekit.Config) {
	if res, ok := gatekit.ResolvedFromContext(r.Context()); ok {
		cfg := m.cfg
		if res.Config != nil {
			cfg = *res.Config
		}
		return res.Identity, cfg
	}

	if m.extractor != nil {
		if id, ok := m.extractor(r); ok {
			return id, m.cfg
		}
	}

	return m.resolver.Resolve(r), m.cfg
}

// postProcess applies the reset policy once the downstream response status is
// known. Reset failures are logged and never alter the response.
func (m *Middleware) postProcess(ctx context.Context, bucket gatekit.Bucket, cfg gatekit.Config, status int) {
	if !cfg.Reset.IsSuccess(status) {
		return
	}

	if err := m.store.Reset(ctx, bucket); err != nil {
		m.logger.Warn("rate limit reset failed",
			"identity", string(bucket.Identity.Kind),
			"path", bucket.Path,
			"error", err,
		)
	}

	if cfg.Reset.Mode != gatekit.ResetMultiple || len(cfg.Reset.Extra) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, extra := range cfg.Reset.Extra {
		if extra.Identity.IsPlaceholder() {
			extra = extra.WithIdentity(bucket.Identity)
		}
		g.Go(func() error {
			if err := m.store.Reset(gctx, extra); err != nil {
				m.logger.Warn("rate limit reset failed",
					"identity", string(extra.Identity.Kind),
					"path", extra.Path,
					"error", err,
				)
			}
			return nil
		})
	}
	// Errors are logged per bucket; the group only bounds the fan-out.
	_ = g.Wait()
}

// annotateCanonical adds rate limit fields to the request's canonical log
// line when one is active.
func (m *Middleware) annotateCanonical(ctx context.Context, id gatekit.Identity, d gatekit.Decision, limited bool) {
	if _, ok := canonlog.TryGetLogger(ctx); !ok {
		return
	}
	canonlog.InfoAddMany(ctx, map[string]any{
		"ratelimit_identity":  string(id.Kind),
		"ratelimit_remaining": d.Remaining,
		"ratelimit_limited":   limited,
	})
}

// mapStoreError converts a backend failure into the taxonomy. Already-mapped
// APIErrors (e.g. configuration errors) pass through unchanged.
func mapStoreError(err error) *gatekit.APIError {
	var apiErr *gatekit.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return gatekit.StoreError(err.Error())
}
