package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the backend REST service that owns persistent storage.
// All operations are opaque request/response calls; the client never
// interprets payloads beyond decoding them.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a REST client for the given backend base URL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListProviders returns all linked mail accounts.
func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	var out []Provider
	if err := c.get(ctx, "/api/providers", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return out, nil
}

// Messages fetches one page of a provider's message list.
func (c *Client) Messages(ctx context.Context, providerID string, opts MessageQueryOptions) (*MessagePage, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("providerID cannot be empty")
	}
	q := url.Values{}
	if opts.MaxResults > 0 {
		q.Set("maxResults", strconv.FormatInt(opts.MaxResults, 10))
	}
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.UnreadOnly {
		q.Set("unread", "true")
	}
	var out MessagePage
	if err := c.get(ctx, "/api/providers/"+url.PathEscape(providerID)+"/messages", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return &out, nil
}

// UnifiedStats fetches aggregate counters across all providers.
func (c *Client) UnifiedStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/stats", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	return &out, nil
}

// RequestAuthURL asks the backend for an authorization URL (or the raw
// client configuration to build one) for the given provider kind.
func (c *Client) RequestAuthURL(ctx context.Context, providerKind string) (*AuthURL, error) {
	if strings.TrimSpace(providerKind) == "" {
		return nil, fmt.Errorf("providerKind cannot be empty")
	}
	q := url.Values{}
	q.Set("provider", providerKind)
	var out AuthURL
	if err := c.get(ctx, "/api/oauth/url", q, &out); err != nil {
		return nil, fmt.Errorf("failed to request authorization URL: %w", err)
	}
	return &out, nil
}

// HandshakeStatus reports the backend's view of an in-flight OAuth
// handshake identified by its state token.
func (c *Client) HandshakeStatus(ctx context.Context, state string) (*HandshakeStatus, error) {
	if strings.TrimSpace(state) == "" {
		return nil, fmt.Errorf("state cannot be empty")
	}
	q := url.Values{}
	q.Set("state", state)
	var out HandshakeStatus
	if err := c.get(ctx, "/api/oauth/status", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch handshake status: %w", err)
	}
	return &out, nil
}

// EnsureConnected asks the backend to finalize a provider connection from
// whatever partial state it already holds. The operation is idempotent:
// calling it for an already-connected provider returns that provider.
func (c *Client) EnsureConnected(ctx context.Context, providerKind, email string) (*Provider, error) {
	if strings.TrimSpace(providerKind) == "" {
		return nil, fmt.Errorf("providerKind cannot be empty")
	}
	body := map[string]string{"provider": providerKind, "email": email}
	var out Provider
	if err := c.post(ctx, "/api/providers/ensure", body, &out); err != nil {
		return nil, fmt.Errorf("failed to ensure provider connection: %w", err)
	}
	return &out, nil
}

// DisconnectProvider unlinks a provider account.
func (c *Client) DisconnectProvider(ctx context.Context, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("providerID cannot be empty")
	}
	if err := c.do(ctx, http.MethodDelete, "/api/providers/"+url.PathEscape(providerID), nil, nil); err != nil {
		return fmt.Errorf("failed to disconnect provider: %w", err)
	}
	return nil
}

// ConnectionStatus reports whether the mailbox identified by providerID is
// currently connected. This backs the settings cache fetch function.
func (c *Client) ConnectionStatus(ctx context.Context, providerID string) (*Provider, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("providerID cannot be empty")
	}
	var out Provider
	if err := c.get(ctx, "/api/providers/"+url.PathEscape(providerID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch connection status: %w", err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("request %s: %w", req.URL.Path, ErrUnauthorized)
	}
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("request %s: %w", req.URL.Path, ErrNotFound)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("request %s: unexpected status %d: %s", req.URL.Path, res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", req.URL.Path, err)
	}
	return nil
}
