// Package outcomefeed polls the external resolution oracle for event
// markets. The contract is small: given a market's outcome reference the
// source answers resolved or not, and if resolved, the winning outcome
// name.
package outcomefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Resolution is the oracle's answer for one market.
type Resolution struct {
	Resolved bool   `json:"resolved"`
	Winner   string `json:"winner"`
}

// Health is the client's last observed state, persisted by the feed health
// cron.
type Health struct {
	Endpoint   string
	Status     string
	LastPollAt *time.Time
	LastError  *string
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type Client struct {
	host       string
	httpClient *http.Client

	mu         sync.Mutex
	lastPollAt *time.Time
	lastError  *string
}

// NewClient builds an oracle client. An empty host is legal and makes every
// Resolution call fail with a "not configured" error, which the market loop
// treats as skip-this-cycle.
func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Resolution asks the oracle about one market reference.
func (c *Client) Resolution(ctx context.Context, ref string) (Resolution, error) {
	if c == nil {
		return Resolution{}, fmt.Errorf("outcome client is nil")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Resolution{}, fmt.Errorf("outcome ref is required")
	}
	if c.host == "" {
		return Resolution{}, fmt.Errorf("outcome feed not configured")
	}
	body, err := c.doRequest(ctx, "/markets/"+url.PathEscape(ref)+"/resolution")
	if err != nil {
		c.markError(err)
		return Resolution{}, err
	}
	var res Resolution
	if err := json.Unmarshal(body, &res); err != nil {
		err = fmt.Errorf("decode resolution for %s: %w", ref, err)
		c.markError(err)
		return Resolution{}, err
	}
	c.markOK()
	return res, nil
}

func (c *Client) markOK() {
	now := time.Now().UTC()
	c.mu.Lock()
	c.lastPollAt = &now
	c.lastError = nil
	c.mu.Unlock()
}

func (c *Client) markError(err error) {
	msg := err.Error()
	c.mu.Lock()
	c.lastError = &msg
	c.mu.Unlock()
}

// Health snapshots the client's last observed state.
func (c *Client) Health() Health {
	if c == nil {
		return Health{Status: "unknown"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "unknown"
	if c.host == "" {
		status = "unconfigured"
	} else if c.lastError != nil {
		status = "error"
	} else if c.lastPollAt != nil {
		status = "ok"
	}
	return Health{
		Endpoint:   c.host,
		Status:     status,
		LastPollAt: c.lastPollAt,
		LastError:  c.lastError,
	}
}
