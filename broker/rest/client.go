// Package rest is an HTTP adapter for a broker that exposes fills, account,
// positions and open orders as JSON resources.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rustyeddy/tradekeeper/broker"
)

const DefaultTimeout = 30 * time.Second

// Client talks to the broker REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var (
	_ broker.FillSource     = (*Client)(nil)
	_ broker.AccountSource  = (*Client)(nil)
	_ broker.PositionSource = (*Client)(nil)
	_ broker.OrderSource    = (*Client)(nil)
)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout replaces the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New creates a client for baseURL authenticated with a bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fillsResponse struct {
	Fills []broker.Fill `json:"fills"`
}

type positionsResponse struct {
	Positions []broker.Position `json:"positions"`
}

type ordersResponse struct {
	Orders []broker.Order `json:"orders"`
}

// FetchFills returns every fill with filled_at >= since.
func (c *Client) FetchFills(ctx context.Context, since time.Time) ([]broker.Fill, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var resp fillsResponse
	if err := c.get(ctx, "/fills", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch fills: %w", err)
	}
	return resp.Fills, nil
}

func (c *Client) GetAccount(ctx context.Context) (broker.Account, error) {
	var acct broker.Account
	if err := c.get(ctx, "/account", nil, &acct); err != nil {
		return broker.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var resp positionsResponse
	if err := c.get(ctx, "/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return resp.Positions, nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]broker.Order, error) {
	q := url.Values{}
	q.Set("status", "open")

	var resp ordersResponse
	if err := c.get(ctx, "/orders", q, &resp); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return resp.Orders, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       errResp.Error.Code,
				Message:    errResp.Error.Message,
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ErrorResponse is the broker's error envelope.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker api error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker api error %d: %s", e.StatusCode, e.Message)
}
