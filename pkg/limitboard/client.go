// Package limitboard is a Go client for the limitboard-server HTTP API.
package limitboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"limitboard/internal/api"
	"limitboard/internal/publish"
)

// Client talks to one limitboard-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL ("http://localhost:8090").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("limitboard: HTTP %d: %s", e.Code, e.Message)
}

// Markets lists the served markets.
func (c *Client) Markets(ctx context.Context) ([]api.MarketInfo, error) {
	var out []api.MarketInfo
	return out, c.do(ctx, http.MethodGet, "/api/markets", nil, &out)
}

// Dates lists the days with payloads for market, newest first.
func (c *Client) Dates(ctx context.Context, market string) ([]string, error) {
	var out api.DatesResponse
	if err := c.do(ctx, http.MethodGet, "/api/"+url.PathEscape(market)+"/dates", nil, &out); err != nil {
		return nil, err
	}
	return out.Dates, nil
}

// Payload fetches one payload. Empty ymd and slot pick the server defaults.
func (c *Client) Payload(ctx context.Context, market, ymd, slot string) (*publish.Payload, error) {
	q := url.Values{}
	if ymd != "" {
		q.Set("ymd", ymd)
	}
	if slot != "" {
		q.Set("slot", slot)
	}
	var out publish.Payload
	if err := c.do(ctx, http.MethodGet, "/api/"+url.PathEscape(market)+"/payload", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the server to sync and rebuild market now.
func (c *Client) Refresh(ctx context.Context, market string) error {
	return c.do(ctx, http.MethodPost, "/api/"+url.PathEscape(market)+"/refresh", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
