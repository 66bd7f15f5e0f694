// Package apiclient is a Go client for the marketplace API. Its refresh
// coordinator guarantees that concurrent requests hitting an expired access
// token trigger at most one refresh call, share its outcome, and retry once
// with the refreshed token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired is returned when a refresh attempt fails; the caller
	// must authenticate again.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken is returned when a 401 arrives and no refresh token
	// is held.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// APIError carries a non-2xx response after retries are exhausted.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLogoutHook installs a callback fired exactly once per failed refresh,
// after the stored tokens have been dropped.
func WithLogoutHook(fn func()) Option {
	return func(c *Client) { c.onLogout = fn }
}

// Client wraps http.Client with token attachment and single-flight refresh.
type Client struct {
	baseURL  string
	hc       *http.Client
	onLogout func()

	mu      sync.RWMutex
	access  string
	refresh string

	sf singleflight.Group
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokens installs a token pair, typically after login.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	c.access = access
	c.refresh = refresh
	c.mu.Unlock()
}

// Tokens returns the current pair.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access, c.refresh
}

func (c *Client) dropTokens() {
	c.mu.Lock()
	c.access = ""
	c.refresh = ""
	c.mu.Unlock()
}

// Do sends a JSON request and decodes the envelope's data into out (which may
// be nil). A 401 response is retried once after a coordinated refresh; a
// request is never retried twice.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	retried := false
	for {
		resp, err := c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			retried = true
			if err := c.refreshAccess(ctx); err != nil {
				return err
			}
			// Next send re-reads the token store, so the retry carries the
			// token the shared refresh produced, never a stale snapshot.
			continue
		}

		defer resp.Body.Close()
		return decodeEnvelope(resp, out)
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	access := c.access
	c.mu.RUnlock()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// refreshAccess funnels all callers through one in-flight refresh. Callers
// blocked on an ongoing refresh share its outcome instead of issuing their
// own. On failure the tokens are dropped and the logout hook fires exactly
// once, inside the shared execution.
func (c *Client) refreshAccess(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		c.mu.RLock()
		refresh := c.refresh
		c.mu.RUnlock()
		if refresh == "" {
			return nil, ErrNoRefreshToken
		}

		access, err := c.callRefresh(ctx, refresh)
		if err != nil {
			c.dropTokens()
			if c.onLogout != nil {
				c.onLogout()
			}
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}

		c.mu.Lock()
		c.access = access
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *Client) callRefresh(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh-token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return "", err
	}
	if data.AccessToken == "" {
		return "", errors.New("refresh response carried no access token")
	}
	return data.AccessToken, nil
}

func decodeEnvelope(resp *http.Response, out interface{}) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Login authenticates as the given role and installs the returned pair.
// Refresh tokens arrive via Set-Cookie for browsers; the Go client reads the
// cookie from the response instead.
func (c *Client) Login(ctx context.Context, role, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/auth/%s/login", c.baseURL, role), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeEnvelope(resp, &data); err != nil {
		return err
	}

	refresh := ""
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "refresh_token" || cookie.Name == "seller_refresh_token" {
			refresh = cookie.Value
		}
	}
	c.SetTokens(data.AccessToken, refresh)
	return nil
}
