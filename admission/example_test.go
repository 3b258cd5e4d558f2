package admission_test

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekit/gatekit"
	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/apikey"
	"github.com/gatekit/gatekit/resolve"
	"github.com/gatekit/gatekit/store"
)

// A login route limited per attempted email, clearing the counter when the
// login succeeds.
func ExampleNew_loginRoute() {
	st := store.NewMemory()
	defer st.Close()

	limiter := admission.New(st, gatekit.Config{
		MaxRequests: 3,
		Window:      5 * time.Minute,
		Reset:       gatekit.OnSuccess(),
	}, admission.WithExtractor(resolve.JSON[loginPayload]()))

	r := chi.NewRouter()
	r.With(limiter.Handler).Post("/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// API-key validation feeding per-key quotas into the limiter.
func ExampleNew_apiKeys() {
	st := store.NewMemory()
	defer st.Close()

	keys := apikey.NewStatic(gatekit.DefaultConfig()).
		WithKey("premium-key", gatekit.Config{MaxRequests: 1000, Window: time.Hour})

	cache, _ := apikey.NewCache(apikey.DefaultCacheTTL)
	defer cache.Close()

	limiter := admission.New(st, gatekit.DefaultConfig())

	r := chi.NewRouter()
	r.Use(apikey.New(cache, apikey.WithFallback(keys)).Handler)
	r.Use(limiter.Handler)
	r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (p loginPayload) RateLimitIdentity() gatekit.Identity {
	return gatekit.Email(p.Email)
}
