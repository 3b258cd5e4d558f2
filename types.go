// Package gatekit provides request admission control for standard http.Handler
// and Chi routers.
//
// The core of the package is a fixed-window rate limiter keyed by an identity
// (caller IP, authenticated email, API key, or a custom tag) plus the route's
// method and path. The root package holds the shared data model and the error
// taxonomy; behavior lives in subpackages:
//
//   - store: the atomic counter backends (Redis for distributed deployments,
//     an in-memory reference implementation for tests and single instances)
//   - resolve: the identity resolution chain and payload-based extraction
//   - admission: the middleware that checks quota, forwards or rejects, and
//     applies reset-on-success policies
//   - apikey: tiered API key validation that feeds the admission middleware
//
// Basic usage:
//
//	st := store.NewMemory()
//	defer st.Close()
//
//	limiter := admission.New(st, gatekit.Config{
//	    MaxRequests: 100,
//	    Window:      time.Minute,
//	})
//
//	r := chi.NewRouter()
//	r.Use(limiter.Handler)
package gatekit

import (
	"time"
)

// IdentityKind discriminates the identity variants used in bucket keys.
type IdentityKind string

const (
	KindEmail  IdentityKind = "email"
	KindAPIKey IdentityKind = "api_key"
	KindIP     IdentityKind = "ip"
	KindCustom IdentityKind = "custom"

	// kindPlaceholder marks an identity that is substituted with the
	// request's resolved identity when a Multiple reset policy fires.
	kindPlaceholder IdentityKind = "placeholder"
)

// Identity names who a request is counted against. Two identities are equal
// iff both kind and value match; equality is what makes two requests share a
// bucket.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// Email returns an identity for an authenticated email address.
func Email(v string) Identity { return Identity{Kind: KindEmail, Value: v} }

// APIKey returns an identity for an API key.
func APIKey(v string) Identity { return Identity{Kind: KindAPIKey, Value: v} }

// IP returns an identity for a caller IP address.
func IP(v string) Identity { return Identity{Kind: KindIP, Value: v} }

// Custom returns an identity with an application-defined value.
func Custom(v string) Identity { return Identity{Kind: KindCustom, Value: v} }

// Placeholder returns the identity used inside ResetPolicy extra buckets to
// mean "the resolved identity of the current request".
func Placeholder() Identity { return Identity{Kind: kindPlaceholder} }

// IsPlaceholder reports whether the identity is the substitution placeholder.
func (i Identity) IsPlaceholder() bool { return i.Kind == kindPlaceholder }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i.Kind == "" && i.Value == "" }

// Bucket is the unit requests are counted against: one identity on one route.
// Method and path are matched exactly, including case and trailing slashes, so
// the same identity on different routes never shares a counter.
type Bucket struct {
	Identity Identity
	Path     string
	Method   string
}

// WithIdentity returns a copy of the bucket with the identity replaced. Used
// for placeholder substitution in Multiple reset policies.
func (b Bucket) WithIdentity(id Identity) Bucket {
	b.Identity = id
	return b
}

// ResetMode selects when a bucket's counter is cleared early.
type ResetMode int

const (
	// ResetNever leaves counters to expire naturally at the window boundary.
	ResetNever ResetMode = iota

	// ResetOnSuccess clears the request's bucket when the response status
	// matches the policy's success codes.
	ResetOnSuccess

	// ResetMultiple behaves like ResetOnSuccess and additionally clears the
	// policy's extra buckets, substituting placeholder identities with the
	// request's resolved identity.
	ResetMultiple
)

// ResetPolicy controls reset-on-success behavior. The zero value never resets.
type ResetPolicy struct {
	Mode ResetMode

	// Codes lists the response statuses that count as success. Empty means
	// any 2xx.
	Codes []int

	// Extra holds additional buckets cleared by ResetMultiple.
	Extra []Bucket
}

// NoReset returns the policy that never clears counters early.
func NoReset() ResetPolicy { return ResetPolicy{Mode: ResetNever} }

// OnSuccess returns a policy that clears the request's bucket when the
// response status is one of codes, or any 2xx when no codes are given.
func OnSuccess(codes ...int) ResetPolicy {
	return ResetPolicy{Mode: ResetOnSuccess, Codes: codes}
}

// OnSuccessMultiple is OnSuccess extended with extra buckets to clear, e.g.
// both the per-IP and per-email counters of a login endpoint. Extra buckets
// may carry a Placeholder identity.
func OnSuccessMultiple(codes []int, extra ...Bucket) ResetPolicy {
	return ResetPolicy{Mode: ResetMultiple, Codes: codes, Extra: extra}
}

// IsSuccess reports whether status should trigger a reset under this policy.
func (p ResetPolicy) IsSuccess(status int) bool {
	if p.Mode == ResetNever {
		return false
	}
	if len(p.Codes) == 0 {
		return status >= 200 && status < 300
	}
	for _, c := range p.Codes {
		if c == status {
			return true
		}
	}
	return false
}

// Config is the quota attached to a route. Immutable once attached; per-key
// overrides are resolved at lookup time, never by mutation.
type Config struct {
	MaxRequests int
	Window      time.Duration
	Reset       ResetPolicy
}

// DefaultConfig returns the fallback quota: 20 requests per minute, no reset.
func DefaultConfig() Config {
	return Config{MaxRequests: 20, Window: time.Minute, Reset: NoReset()}
}

// Validate checks that the quota is usable.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return ConfigurationError("max requests must be positive")
	}
	if c.Window <= 0 {
		return ConfigurationError("window must be positive")
	}
	return nil
}

// Decision is the outcome of a counter check.
type Decision struct {
	Allowed   bool
	Remaining int

	// RetryAfter is how long the caller should wait before retrying. Set
	// only when the request was denied.
	RetryAfter time.Duration

	// ResetAfter is the time until the current window ends. Set on allowed
	// decisions so responses can carry X-RateLimit-Reset.
	ResetAfter time.Duration
}
