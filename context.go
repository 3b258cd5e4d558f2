package gatekit

import "context"

type contextKey string

const resolvedKey contextKey = "gatekit_resolved"

// Resolved carries an identity established by an upstream stage (usually the
// API key validation layer) together with an optional quota override for it.
type Resolved struct {
	Identity Identity

	// Config overrides the route quota when non-nil. Precedence is
	// validator-supplied override > static per-identity entry > route default.
	Config *Config
}

// WithResolved returns a context carrying an already-resolved identity and
// optional config override. The admission middleware uses it instead of
// running its own resolution chain.
func WithResolved(ctx context.Context, id Identity, cfg *Config) context.Context {
	return context.WithValue(ctx, resolvedKey, Resolved{Identity: id, Config: cfg})
}

// ResolvedFromContext retrieves the resolved identity set by an upstream
// stage, if any.
func ResolvedFromContext(ctx context.Context) (Resolved, bool) {
	res, ok := ctx.Value(resolvedKey).(Resolved)
	return res, ok
}
