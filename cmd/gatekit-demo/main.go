// Command gatekit-demo runs a small server showing the admission and API key
// middleware wired together: a login route with reset-on-success and an
// API-key protected route with per-key quotas.
//
// Configuration comes from the environment (optionally a .env file):
//
//	SERVER_PORT   listen port (default 8080)
//	REDIS_URL     Redis address; empty runs on the in-memory store
//	MAX_REQUESTS  route quota (default 5)
//	WINDOW        quota window (default 60s)
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jpillora/backoff"
	"github.com/kelseyhightower/envconfig"

	"github.com/gatekit/gatekit"
	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/apikey"
	"github.com/gatekit/gatekit/resolve"
	"github.com/gatekit/gatekit/store"
)

type config struct {
	Port        int           `envconfig:"SERVER_PORT" default:"8080"`
	RedisURL    string        `envconfig:"REDIS_URL" default:""`
	MaxRequests int           `envconfig:"MAX_REQUESTS" default:"5"`
	Window      time.Duration `envconfig:"WINDOW" default:"60s"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (l loginRequest) RateLimitIdentity() gatekit.Identity {
	return gatekit.Email(l.Email)
}

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Fatalf("error loading .env file: %v", err)
		}
	}

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	st := newStore(cfg)
	defer st.Close()

	// Demo key minted at startup; real deployments validate against their
	// key database via apikey.WithFallback.
	demoKey := uuid.NewString()
	slog.Info("demo API key", "key", demoKey)

	keys := apikey.NewStatic(gatekit.DefaultConfig()).
		WithKey(demoKey, gatekit.Config{MaxRequests: 100, Window: time.Minute})

	cache, err := apikey.NewCache(apikey.DefaultCacheTTL)
	if err != nil {
		log.Fatalf("error creating key cache: %v", err)
	}
	defer cache.Close()

	loginLimiter := admission.New(st, gatekit.Config{
		MaxRequests: cfg.MaxRequests,
		Window:      cfg.Window,
		Reset:       gatekit.OnSuccess(),
	}, admission.WithExtractor(resolve.JSON[loginRequest]()))

	apiLimiter := admission.New(st, gatekit.Config{
		MaxRequests: cfg.MaxRequests,
		Window:      cfg.Window,
	})

	r := chi.NewRouter()

	r.With(loginLimiter.Handler).Post("/login", loginHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(apikey.New(cache, apikey.WithFallback(keys)).Handler)
		r.Use(apiLimiter.Handler)
		r.Get("/data", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":"ok"}`))
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("listening", "addr", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

// loginHandler accepts any password equal to "hunter2" so both the reset and
// exhaustion paths are easy to exercise with curl.
func loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "hunter2" {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad credentials"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"login":"ok","identity":%q}`, req.Email)
}

// newStore connects to Redis when configured, retrying with backoff while it
// comes up, and falls back to the in-memory store otherwise.
func newStore(cfg config) store.Store {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory store")
		return store.NewMemory()
	}

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
	}

	for {
		st, err := store.NewRedis(store.RedisConfig{URL: cfg.RedisURL})
		if err == nil {
			slog.Info("using redis store", "addr", cfg.RedisURL)
			return st
		}
		d := b.Duration()
		slog.Warn("redis not ready", "error", err, "retry_in", d)
		time.Sleep(d)
		if b.Attempt() > 8 {
			log.Fatalf("giving up connecting to redis at %s", cfg.RedisURL)
		}
	}
}
