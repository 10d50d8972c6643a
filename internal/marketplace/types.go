package marketplace

import (
	"fmt"
	"strings"
)

// AuthType enumerates how a package authenticates.
type AuthType string

const (
	AuthNone  AuthType = "none"
	AuthOAuth AuthType = "oauth"
)

// Transport enumerates how a local client reaches a server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// Package is the marketplace's description of an installable MCP server.
type Package struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName,omitempty"`
	Description string            `json:"description,omitempty"`
	Transport   Transport         `json:"transport"`
	AuthType    AuthType          `json:"authType,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Version     string            `json:"version,omitempty"`
}

// RequiresAuth reports whether installing the package needs an authorization
// handshake first.
func (p *Package) RequiresAuth() bool {
	return p.AuthType == AuthOAuth
}

// InitResponse is the backend's answer to an authorization initiation. The
// returned state is advisory only; the client substitutes its own.
type InitResponse struct {
	AuthURL  string `json:"authUrl"`
	State    string `json:"state,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ExchangeRequest asks the backend to swap an authorization code for tokens.
type ExchangeRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	Provider     string `json:"provider"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
	RedirectURI  string `json:"redirectUri,omitempty"`
}

// TokenData is the token material returned by a successful exchange.
type TokenData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// ExchangeResponse is the wire shape of the exchange endpoint.
type ExchangeResponse struct {
	Success   bool       `json:"success"`
	Provider  string     `json:"provider,omitempty"`
	TokenData *TokenData `json:"tokenData,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RefreshRequest asks the backend to renew a token for a provider.
type RefreshRequest struct {
	Provider     string `json:"provider"`
	RefreshToken string `json:"refreshToken"`
}

// InstallRequest registers a server installation with the backend.
type InstallRequest struct {
	Scope          string            `json:"scope,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
}

// InstallResponse is the wire shape of the install endpoint. Failures carry a
// structured error whose nested detail strings are folded into one
// user-facing message.
type InstallResponse struct {
	Success bool          `json:"success"`
	Error   *InstallError `json:"error,omitempty"`
}

// InstallError is the structured error payload of a failed installation.
type InstallError struct {
	Message string `json:"message,omitempty"`
	Details struct {
		Errors []string `json:"errors,omitempty"`
	} `json:"details,omitempty"`
}

// UserMessage assembles the displayable failure text: the top-level message
// followed by any nested detail lines.
func (e *InstallError) UserMessage() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 1+len(e.Details.Errors))
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	parts = append(parts, e.Details.Errors...)
	if len(parts) == 0 {
		return "installation rejected"
	}
	return strings.Join(parts, ": ")
}

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}
