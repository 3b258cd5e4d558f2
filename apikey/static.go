package apikey

import (
	"context"

	"github.com/gatekit/gatekit"
)

// Static validates against a fixed set of keys known at startup. Keys with a
// registered quota get it as their override; other registered keys use the
// default. Useful as an authoritative fallback in small deployments and in
// tests.
type Static struct {
	keys       map[string]*gatekit.Config
	defaultCfg gatekit.Config
}

// NewStatic creates a static validator with the given default quota.
func NewStatic(defaultCfg gatekit.Config) *Static {
	return &Static{
		keys:       make(map[string]*gatekit.Config),
		defaultCfg: defaultCfg,
	}
}

// WithKey registers a key with its own quota. Returns the validator for
// chaining.
func (s *Static) WithKey(key string, cfg gatekit.Config) *Static {
	s.keys[key] = &cfg
	return s
}

// WithDefaultKey registers a key that uses the default quota.
func (s *Static) WithDefaultKey(key string) *Static {
	s.keys[key] = nil
	return s
}

// ValidateKey reports whether the key is registered, with its per-key quota
// when one was set.
func (s *Static) ValidateKey(_ context.Context, key string) (Validation, error) {
	cfg, ok := s.keys[key]
	if !ok {
		return Invalid(), nil
	}
	if cfg == nil {
		return ValidWithConfig(key, s.defaultCfg), nil
	}
	return ValidWithConfig(key, *cfg), nil
}
