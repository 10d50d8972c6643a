package oauth

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"pier/internal/store"
	"pier/pkg/logging"
)

const tokenPrefix = "token:"

// TokenVault holds provider access tokens, at most one per provider. Expiry
// is enforced at read time: an expired record is purged and reported as
// absent. When the backing store starts failing, the vault degrades to an
// in-memory store for the rest of the process lifetime; callers never see
// storage errors, only a less durable session.
type TokenVault struct {
	mu    sync.Mutex
	store store.ScopedStore
	now   func() time.Time

	degraded bool
}

// NewTokenVault creates a vault backed by s.
func NewTokenVault(s store.ScopedStore) *TokenVault {
	return &TokenVault{
		store: s,
		now:   time.Now,
	}
}

// Set stores the token for provider, replacing any previous one. When
// expiresIn is positive it anchors the expiry at now+expiresIn; otherwise the
// vault tries to infer an expiry from the access token's own exp claim and
// falls back to a non-expiring record.
func (v *TokenVault) Set(provider string, rec TokenRecord, expiresIn time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	rec.Provider = provider
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	if expiresIn > 0 {
		rec.ExpiresAt = now.Add(expiresIn)
	} else if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = inferJWTExpiry(rec.AccessToken)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logging.Error("OAuth", err, "Failed to encode token for provider %s", provider)
		return
	}
	v.write(tokenPrefix+provider, data)
	logging.Debug("OAuth", "Stored token for provider %s (token: %s)", provider, logging.TruncateToken(rec.AccessToken))
}

// Get returns the stored token for provider, or nil when none exists or the
// stored one has expired. Expired records are purged as a side effect.
func (v *TokenVault) Get(provider string) *TokenRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := tokenPrefix + provider
	data, ok, err := v.store.Get(key)
	if err != nil {
		v.degrade(err)
		return nil
	}
	if !ok {
		return nil
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Warn("OAuth", "Dropping undecodable token record for provider %s: %v", provider, err)
		_ = v.store.Remove(key)
		return nil
	}
	if rec.ExpiredAt(v.now()) {
		logging.Debug("OAuth", "Token for provider %s expired at %s, purged", provider, rec.ExpiresAt.Format(time.RFC3339))
		_ = v.store.Remove(key)
		return nil
	}
	return &rec
}

// Remove deletes the token for provider, if any.
func (v *TokenVault) Remove(provider string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.store.Remove(tokenPrefix + provider); err != nil {
		v.degrade(err)
	}
}

// Clear deletes every stored token.
func (v *TokenVault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys, err := v.store.Keys(tokenPrefix)
	if err != nil {
		v.degrade(err)
		return
	}
	for _, key := range keys {
		_ = v.store.Remove(key)
	}
}

// Providers lists the providers that currently hold a non-expired token,
// sorted for stable output.
func (v *TokenVault) Providers() []string {
	v.mu.Lock()
	keys, err := v.store.Keys(tokenPrefix)
	v.mu.Unlock()
	if err != nil {
		v.mu.Lock()
		v.degrade(err)
		v.mu.Unlock()
		return nil
	}

	providers := make([]string, 0, len(keys))
	for _, key := range keys {
		provider := strings.TrimPrefix(key, tokenPrefix)
		// Get enforces expiry-at-read and purges stale records.
		if v.Get(provider) != nil {
			providers = append(providers, provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// peekRefreshable returns the raw record for provider when it carries a
// refresh token, ignoring expiry and without purging. Used by the refresh
// path, which is the only legitimate consumer of an expired record.
func (v *TokenVault) peekRefreshable(provider string) *TokenRecord {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, ok, err := v.store.Get(tokenPrefix + provider)
	if err != nil || !ok {
		return nil
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.RefreshToken == "" {
		return nil
	}
	return &rec
}

// Degraded reports whether the vault has fallen back to in-memory storage.
func (v *TokenVault) Degraded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.degraded
}

// write persists data, swapping in an in-memory store on failure so the
// session keeps working without durable storage.
func (v *TokenVault) write(key string, data []byte) {
	if err := v.store.Set(key, data); err != nil {
		v.degrade(err)
		_ = v.store.Set(key, data)
	}
}

// degrade replaces the failing store with an in-memory one. Must be called
// with the mutex held.
func (v *TokenVault) degrade(err error) {
	if v.degraded {
		return
	}
	logging.Warn("OAuth", "Token storage unavailable (%v), continuing with in-memory tokens for this session", err)
	v.store = store.NewMemoryStore()
	v.degraded = true
}
