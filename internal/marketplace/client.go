package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pier/pkg/logging"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the marketplace backend: package metadata, the trusted
// OAuth initiation/exchange endpoints, and installation registration.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string

	// initGroup collapses concurrent initiations for the same provider into
	// one backend round trip.
	initGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header on outgoing requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a marketplace client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		userAgent:  "pier",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchPackage retrieves the marketplace metadata for a named package.
func (c *Client) FetchPackage(ctx context.Context, name string) (*Package, error) {
	var pkg Package
	path := "/api/marketplace/packages/" + url.PathEscape(name)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &pkg); err != nil {
		return nil, fmt.Errorf("fetch package %q: %w", name, err)
	}
	return &pkg, nil
}

// OAuthInit asks the backend to prepare an authorization flow for provider.
// Concurrent calls for the same provider share one request.
func (c *Client) OAuthInit(ctx context.Context, provider string) (*InitResponse, error) {
	v, err, shared := c.initGroup.Do(provider, func() (interface{}, error) {
		var resp InitResponse
		body := map[string]string{"provider": provider}
		if err := c.doJSON(ctx, http.MethodPost, "/api/mcp/oauth/init", body, &resp); err != nil {
			return nil, err
		}
		if resp.AuthURL == "" {
			return nil, fmt.Errorf("initiation response carries no authorization URL")
		}
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("initiate authorization for %s: %w", provider, err)
	}
	if shared {
		logging.Debug("Marketplace", "Authorization initiation for %s shared with a concurrent caller", provider)
	}
	return v.(*InitResponse), nil
}

// ExchangeCode swaps an authorization code for token material via the
// backend, which holds the client secret.
func (c *Client) ExchangeCode(ctx context.Context, req ExchangeRequest) (*TokenData, error) {
	var resp ExchangeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/mcp/oauth/exchange", req, &resp); err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if !resp.Success || resp.TokenData == nil || resp.TokenData.AccessToken == "" {
		msg := resp.Error
		if msg == "" {
			msg = "exchange returned no token data"
		}
		return nil, fmt.Errorf("exchange authorization code: %s", msg)
	}
	return resp.TokenData, nil
}

// Refresh renews token material for a provider using its refresh token.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (*TokenData, error) {
	var resp ExchangeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/mcp/oauth/refresh", req, &resp); err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", req.Provider, err)
	}
	if !resp.Success || resp.TokenData == nil || resp.TokenData.AccessToken == "" {
		msg := resp.Error
		if msg == "" {
			msg = "refresh returned no token data"
		}
		return nil, fmt.Errorf("refresh token for %s: %s", req.Provider, msg)
	}
	return resp.TokenData, nil
}

// Install registers an installation of the named package with the backend.
// A structured rejection is surfaced as an error whose text is assembled
// from the payload's message and detail lines.
func (c *Client) Install(ctx context.Context, name string, req InstallRequest) error {
	var resp InstallResponse
	path := "/api/marketplace/packages/" + url.PathEscape(name) + "/install"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return fmt.Errorf("install package %q: %w", name, err)
	}
	if !resp.Success {
		return fmt.Errorf("install package %q: %s", name, resp.Error.UserMessage())
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			if payload.Error != "" {
				apiErr.Message = payload.Error
			} else {
				apiErr.Message = payload.Message
			}
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
