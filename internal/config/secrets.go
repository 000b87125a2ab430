package config

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Secrets is an immutable snapshot of the credential material: the shared
// secret expected from callers and the upstream Discogs token. Components
// read the current snapshot through Store and never cache it across
// requests.
type Secrets struct {
	APIKey string
	Token  string
}

// isRef reports whether a value is still an unresolved reference
// placeholder from a secret store rather than the secret itself.
func isRef(v string) bool {
	return strings.HasPrefix(v, "@") || strings.HasPrefix(v, "${")
}

// IsResolved reports whether a secret value is usable.
func IsResolved(v string) bool {
	return v != "" && !isRef(v)
}

// APIKeyResolved reports whether the caller-facing shared secret is usable.
func (s Secrets) APIKeyResolved() bool { return IsResolved(s.APIKey) }

// TokenResolved reports whether the upstream credential is usable.
func (s Secrets) TokenResolved() bool { return IsResolved(s.Token) }

// TokenDangling reports whether the token is present but still an
// unresolved reference. Such a value must never be sent upstream.
func (s Secrets) TokenDangling() bool { return s.Token != "" && isRef(s.Token) }

// Store holds the current secret snapshot behind one atomic indirection
// point. Reads are lock-free; the background resolver swaps in a fresh
// snapshot when late-binding resolution delivers the real values.
type Store struct {
	current atomic.Pointer[Secrets]
	logger  *slog.Logger
}

// NewStore seeds the store from configuration.
func NewStore(cfg *Config, logger *slog.Logger) *Store {
	st := &Store{logger: logger.With("component", "secret_store")}
	st.Set(Secrets{APIKey: strings.TrimSpace(cfg.Auth.APIKey), Token: strings.TrimSpace(cfg.Discogs.Token)})
	return st
}

// Current returns the latest snapshot.
func (st *Store) Current() Secrets {
	return *st.current.Load()
}

// Set replaces the snapshot.
func (st *Store) Set(s Secrets) {
	st.current.Store(&s)
}

// Resolve re-reads the secret environment variables for any value that is
// still unresolved and reports whether the whole snapshot is now resolved.
// Already-resolved values are kept; the environment never downgrades them.
func (st *Store) Resolve() bool {
	s := st.Current()
	changed := false
	if !IsResolved(s.APIKey) {
		if v := strings.TrimSpace(os.Getenv("X_API_KEY")); IsResolved(v) {
			s.APIKey = v
			changed = true
		}
	}
	if !IsResolved(s.Token) {
		if v := strings.TrimSpace(os.Getenv("DISCOGS_TOKEN")); IsResolved(v) {
			s.Token = v
			changed = true
		}
	}
	if changed {
		st.Set(s)
		st.logger.Info("secret snapshot updated",
			"api_key_resolved", s.APIKeyResolved(),
			"token_resolved", s.TokenResolved(),
		)
	}
	return s.APIKeyResolved() && s.TokenResolved()
}

// ResolveLoop polls for secret resolution until both values resolve or the
// context is canceled. It is a no-op when the snapshot is already complete.
func (st *Store) ResolveLoop(ctx context.Context, interval time.Duration) {
	if st.Resolve() {
		return
	}
	st.logger.Warn("starting degraded: secrets unresolved, polling for resolution",
		"interval", interval.String(),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st.Resolve() {
				return
			}
		}
	}
}
