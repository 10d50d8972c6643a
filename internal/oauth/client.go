package oauth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"pier/internal/marketplace"
	"pier/pkg/logging"
)

// NewCodeVerifier returns a fresh PKCE code verifier.
func NewCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// S256Challenge derives the code challenge for a verifier.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthorizeURL rewrites the backend-provided authorization URL for a flow
// the client controls: the ledger-issued state replaces whatever state the
// backend suggested, and the PKCE challenge and redirect URI are pinned.
func AuthorizeURL(base, state, challenge, redirectURI string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse authorization URL: %w", err)
	}
	q := u.Query()
	q.Set("state", state)
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Refresher renews token material for a provider.
type Refresher interface {
	Refresh(ctx context.Context, req marketplace.RefreshRequest) (*marketplace.TokenData, error)
}

// TokenSource reads tokens through the vault with transparent refresh: an
// expired token with a refresh token is renewed and re-stored before being
// handed out.
type TokenSource struct {
	vault     *TokenVault
	refresher Refresher
}

// NewTokenSource wires a vault to a refresher. refresher may be nil, in
// which case expired tokens are simply reported as absent.
func NewTokenSource(vault *TokenVault, refresher Refresher) *TokenSource {
	return &TokenSource{vault: vault, refresher: refresher}
}

// Token returns a usable access token for provider, wrapped so it cannot
// leak through logging. The second return reports whether one is available.
func (s *TokenSource) Token(ctx context.Context, provider string) (RedactedToken, bool) {
	// Capture any refresh token before Get, which purges expired records.
	rec := s.vault.peekRefreshable(provider)

	if live := s.vault.Get(provider); live != nil {
		return NewRedactedToken(live.AccessToken), true
	}
	if s.refresher == nil || rec == nil {
		return RedactedToken{}, false
	}

	td, err := s.refresher.Refresh(ctx, marketplace.RefreshRequest{
		Provider:     provider,
		RefreshToken: rec.RefreshToken,
	})
	if err != nil {
		logging.Warn("OAuth", "Refresh for provider %s failed: %v", provider, err)
		return RedactedToken{}, false
	}

	renewed := TokenRecord{
		AccessToken:  td.AccessToken,
		RefreshToken: td.RefreshToken,
		TokenType:    td.TokenType,
		Scope:        td.Scope,
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = rec.RefreshToken
	}
	s.vault.Set(provider, renewed, time.Duration(td.ExpiresIn)*time.Second)
	logging.Info("OAuth", "Refreshed token for provider %s", provider)
	return NewRedactedToken(renewed.AccessToken), true
}
