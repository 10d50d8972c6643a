package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pier/internal/store"
	"pier/pkg/logging"
)

const (
	statePrefix     = "oauth:state:"
	stateTokenBytes = 32
	cleanupInterval = time.Minute
)

// StateLedger issues and validates the single-use state tokens that tie an
// authorization callback back to the request that triggered it. Tokens are
// valid for StateValidity from issuance and are destroyed on first Consume,
// whatever the outcome.
type StateLedger struct {
	mu       sync.Mutex
	store    store.ScopedStore
	validity time.Duration
	now      func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateLedger creates a ledger backed by s and starts its background
// cleanup of expired records. Call Stop when the ledger is no longer needed.
func NewStateLedger(s store.ScopedStore) *StateLedger {
	l := &StateLedger{
		store:       s,
		validity:    StateValidity,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Issue mints a fresh unguessable state token for provider and records the
// flow context that must survive until the callback arrives.
func (l *StateLedger) Issue(provider, codeVerifier, returnURL string) (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	rec := StateRecord{
		State:        state,
		Provider:     provider,
		CodeVerifier: codeVerifier,
		ReturnURL:    returnURL,
		IssuedAt:     l.now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode state record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Set(statePrefix+state, data); err != nil {
		return "", fmt.Errorf("persist state record: %w", err)
	}

	logging.Debug("OAuth", "Issued state %s for provider %s", logging.TruncateToken(state), provider)
	return state, nil
}

// Consume validates state and returns its record. The record is removed
// before the method returns, so a second Consume of the same token reports
// ErrStateNotFound even when the first one failed. Expired records report
// ErrStateExpired.
func (l *StateLedger) Consume(state string) (*StateRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := statePrefix + state
	data, ok, err := l.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read state record: %w", err)
	}
	if !ok {
		return nil, ErrStateNotFound
	}

	// Single use: the token is spent by the act of presenting it.
	if err := l.store.Remove(key); err != nil {
		logging.Warn("OAuth", "Failed to remove consumed state %s: %v", logging.TruncateToken(state), err)
	}

	var rec StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode state record: %w", err)
	}
	if l.now().Sub(rec.IssuedAt) > l.validity {
		logging.Debug("OAuth", "State %s expired (issued %s)", logging.TruncateToken(state), rec.IssuedAt.Format(time.RFC3339))
		return nil, ErrStateExpired
	}
	return &rec, nil
}

// Pending returns how many unconsumed states the ledger currently holds,
// expired ones included until cleanup catches up.
func (l *StateLedger) Pending() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys, err := l.store.Keys(statePrefix)
	if err != nil {
		return 0, fmt.Errorf("list state records: %w", err)
	}
	return len(keys), nil
}

// Stop terminates the background cleanup goroutine. Safe to call more than
// once.
func (l *StateLedger) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

func (l *StateLedger) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.removeExpired()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *StateLedger) removeExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.store.Keys(statePrefix)
	if err != nil {
		logging.Warn("OAuth", "State cleanup: listing failed: %v", err)
		return
	}

	removed := 0
	for _, key := range keys {
		data, ok, err := l.store.Get(key)
		if err != nil || !ok {
			continue
		}
		var rec StateRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			// Undecodable records can never be consumed, drop them.
			_ = l.store.Remove(key)
			removed++
			continue
		}
		if l.now().Sub(rec.IssuedAt) > l.validity {
			_ = l.store.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("OAuth", "State cleanup removed %d expired record(s)", removed)
	}
}
