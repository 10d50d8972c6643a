package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// StateValidity is the window within which an issued state token may be
// consumed. It is also the authoritative upper bound on how long an
// installation may wait for an authorization callback.
const StateValidity = 10 * time.Minute

// StateRecord correlates an outbound authorization request with its eventual
// callback. Records are owned by the StateLedger: created on Issue, removed
// on Consume or expiry.
type StateRecord struct {
	// State is the unguessable token embedded in the authorization URL.
	State string `json:"state"`

	// Provider is the external authorization service this flow targets.
	Provider string `json:"provider"`

	// CodeVerifier is the PKCE verifier for this flow. It never leaves the
	// ledger except through Consume.
	CodeVerifier string `json:"codeVerifier,omitempty"`

	// ReturnURL is where the caller wants to navigate after a successful
	// completion.
	ReturnURL string `json:"returnUrl,omitempty"`

	// IssuedAt anchors the validity window.
	IssuedAt time.Time `json:"issuedAt"`
}

// TokenRecord is a provider access token with expiry metadata, owned by the
// TokenVault and keyed by provider.
type TokenRecord struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// ExpiredAt reports whether the record is expired at the given instant.
// Records without an expiry never expire.
func (t *TokenRecord) ExpiredAt(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// Expired reports whether the record is expired now.
func (t *TokenRecord) Expired() bool {
	return t.ExpiredAt(time.Now())
}

// AsOAuth2Token converts the record for collaborators that speak
// golang.org/x/oauth2.
func (t *TokenRecord) AsOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.ExpiresAt,
	}
}

// inferJWTExpiry extracts the exp claim from a JWT access token. Used when a
// token exchange response carries no expires_in: a JWT's own exp claim is a
// better expiry than treating the token as non-expiring. Returns the zero
// time for opaque tokens or tokens without an exp claim. The token is not
// verified; the downstream server remains responsible for validation.
func inferJWTExpiry(accessToken string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
