package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gatekit/gatekit"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *gatekit.APIError {
	t.Helper()
	var envelope struct {
		Error *gatekit.APIError `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if envelope.Error == nil {
		t.Fatal("response body has no error envelope")
	}
	return envelope.Error
}

func sendKey(t *testing.T, h http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("GET", "/api", nil)
	if key != "" {
		r.Header.Set(DefaultHeader, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// recordingValidator wraps a Validator and counts lookups.
type recordingValidator struct {
	mu    sync.Mutex
	inner Validator
	calls int
}

func (v *recordingValidator) ValidateKey(ctx context.Context, key string) (Validation, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.inner.ValidateKey(ctx, key)
}

func TestHandler_MissingKeyRejectedBeforeValidation(t *testing.T) {
	primary := &recordingValidator{inner: NewStatic(gatekit.DefaultConfig())}
	m := New(primary)

	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	w := sendKey(t, m.Handler(next), "")

	if reached {
		t.Error("downstream handler must not run without a key")
	}
	if primary.calls != 0 {
		t.Errorf("validator calls = %d, want 0 for a missing key", primary.calls)
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if apiErr := decodeError(t, w); apiErr.Code != gatekit.CodeAPIKeyMissing {
		t.Errorf("code = %q, want %q", apiErr.Code, gatekit.CodeAPIKeyMissing)
	}
}

func TestHandler_OptionalMissingKeyPassesThrough(t *testing.T) {
	m := New(NewStatic(gatekit.DefaultConfig()), WithOptional())

	var resolved bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, resolved = gatekit.ResolvedFromContext(r.Context())
	})

	if w := sendKey(t, m.Handler(next), ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resolved {
		t.Error("unvalidated requests must not carry a resolved identity")
	}
}

func TestHandler_InvalidKeyBothTiers(t *testing.T) {
	primary := NewStatic(gatekit.DefaultConfig())
	fallback := NewStatic(gatekit.DefaultConfig())
	m := New(primary, WithFallback(fallback))

	w := sendKey(t, m.Handler(http.NotFoundHandler()), "0123456789abcdef")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	apiErr := decodeError(t, w)
	if apiErr.Code != gatekit.CodeInvalidAPIKey {
		t.Errorf("code = %q, want %q", apiErr.Code, gatekit.CodeInvalidAPIKey)
	}
	// Only a hint of the key may appear in the message.
	if want := "01234567..."; !strings.Contains(apiErr.Message, want) {
		t.Errorf("message %q should contain the truncated hint %q", apiErr.Message, want)
	}
	if strings.Contains(apiErr.Message, "0123456789abcdef") {
		t.Errorf("message %q leaks the full key", apiErr.Message)
	}
}

func TestHandler_ValidKeySetsIdentityAndConfig(t *testing.T) {
	override := gatekit.Config{MaxRequests: 1000, Window: time.Hour}
	primary := NewStatic(gatekit.DefaultConfig()).WithKey("prod-key", override)
	m := New(primary)

	var got gatekit.Resolved
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := gatekit.ResolvedFromContext(r.Context())
		if !ok {
			t.Error("validated request should carry a resolved identity")
			return
		}
		got = res
	})

	if w := sendKey(t, m.Handler(next), "prod-key"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if want := gatekit.APIKey("prod-key"); got.Identity != want {
		t.Errorf("identity = %+v, want %+v", got.Identity, want)
	}
	if got.Config == nil || !reflect.DeepEqual(*got.Config, override) {
		t.Errorf("config = %+v, want per-key override %+v", got.Config, override)
	}
}

func TestHandler_RouteConfigAppliesWithoutOverride(t *testing.T) {
	accept := ValidatorFunc(func(ctx context.Context, key string) (Validation, error) {
		return Valid(key), nil
	})
	routeCfg := gatekit.Config{MaxRequests: 50, Window: time.Minute}
	m := New(accept, WithConfig(routeCfg))

	var got gatekit.Resolved
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = gatekit.ResolvedFromContext(r.Context())
	})

	sendKey(t, m.Handler(next), "k1")
	if got.Config == nil || !reflect.DeepEqual(*got.Config, routeCfg) {
		t.Errorf("config = %+v, want route config %+v", got.Config, routeCfg)
	}
}

// cachingPrimary is an in-memory KeyCacher for observing write-backs.
type cachingPrimary struct {
	mu     sync.Mutex
	keys   map[string]*gatekit.Config
	cached map[string]time.Duration
}

func newCachingPrimary() *cachingPrimary {
	return &cachingPrimary{
		keys:   make(map[string]*gatekit.Config),
		cached: make(map[string]time.Duration),
	}
}

func (p *cachingPrimary) ValidateKey(_ context.Context, key string) (Validation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, ok := p.keys[key]
	if !ok {
		return Invalid(), nil
	}
	return Validation{Valid: true, KeyID: key, Config: cfg}, nil
}

func (p *cachingPrimary) CacheKey(_ context.Context, key string, cfg *gatekit.Config, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = cfg
	p.cached[key] = ttl
	return nil
}

func TestHandler_FallbackPopulatesPrimary(t *testing.T) {
	primary := newCachingPrimary()
	override := gatekit.Config{MaxRequests: 10, Window: time.Minute}
	fallback := &recordingValidator{inner: NewStatic(gatekit.DefaultConfig()).WithKey("k1", override)}

	m := New(primary, WithFallback(fallback), WithCacheTTL(30*time.Minute))
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if w := sendKey(t, h, "k1"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.calls)
	}
	if ttl := primary.cached["k1"]; ttl != 30*time.Minute {
		t.Errorf("cached ttl = %v, want 30m", ttl)
	}
	if cfg := primary.keys["k1"]; cfg == nil || !reflect.DeepEqual(*cfg, override) {
		t.Errorf("cached config = %+v, want %+v", cfg, override)
	}

	// The second request is served from the primary.
	if w := sendKey(t, h, "k1"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want still 1 after cache hit", fallback.calls)
	}
}

func TestHandler_PrimaryErrorDegradesToFallback(t *testing.T) {
	flaky := ValidatorFunc(func(ctx context.Context, key string) (Validation, error) {
		return Validation{}, errors.New("cache unavailable")
	})
	fallback := NewStatic(gatekit.DefaultConfig()).WithDefaultKey("k1")

	m := New(flaky, WithFallback(fallback))
	if w := sendKey(t, m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})), "k1"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 via fallback", w.Code)
	}
}

func TestHandler_FallbackErrorRejects(t *testing.T) {
	reject := NewStatic(gatekit.DefaultConfig())
	failing := ValidatorFunc(func(ctx context.Context, key string) (Validation, error) {
		return Validation{}, errors.New("database down")
	})

	m := New(reject, WithFallback(failing))
	w := sendKey(t, m.Handler(http.NotFoundHandler()), "k1")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when both tiers fail", w.Code)
	}
}

func TestHandler_CustomHeader(t *testing.T) {
	m := New(NewStatic(gatekit.DefaultConfig()).WithDefaultKey("k1"), WithHeader("Authorization-Key"))

	r := httptest.NewRequest("GET", "/api", nil)
	r.Header.Set("Authorization-Key", "k1")
	w := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
