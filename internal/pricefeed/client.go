// Package pricefeed supplies reference prices for the resolver loops. A
// websocket stream keeps a quote cache warm; REST polling across mirror
// endpoints is the fallback whenever the cache is cold or stale. Prices are
// never fabricated: when every source fails the caller gets an error and
// skips the symbol for that cycle.
package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"betengine/internal/config"
	"betengine/internal/metrics"
)

const defaultEndpoint = "https://api.binance.com"

// SourceHealth is one endpoint's last observed state, persisted by the feed
// health cron for the ops surface.
type SourceHealth struct {
	Name       string
	Endpoint   string
	Status     string
	LastPollAt *time.Time
	LastError  *string
}

type endpointState struct {
	lastOKAt  *time.Time
	lastError *string
}

// Client polls spot ticker endpoints, failing over across mirrors in order.
type Client struct {
	clients []*resty.Client
	hosts   []string
	logger  *zap.Logger

	mu    sync.Mutex
	state []endpointState
}

func NewClient(cfg config.PriceFeedConfig, logger *zap.Logger) *Client {
	hosts := make([]string, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		hosts = append(hosts, ep)
	}
	if len(hosts) == 0 {
		hosts = []string{defaultEndpoint}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = 500 * time.Millisecond
	}
	retryMaxWait := cfg.RetryMaxWait
	if retryMaxWait <= 0 {
		retryMaxWait = 4 * time.Second
	}

	clients := make([]*resty.Client, 0, len(hosts))
	for _, host := range hosts {
		rc := resty.New().
			SetBaseURL(host).
			SetTimeout(timeout).
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(retryWait).
			SetRetryMaxWaitTime(retryMaxWait).
			SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
				if resp != nil && resp.StatusCode() == 429 {
					if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
						if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
							return seconds, nil
						}
					}
					return retryMaxWait, nil
				}
				return 0, nil
			})
		clients = append(clients, rc)
	}
	return &Client{
		clients: clients,
		hosts:   hosts,
		logger:  logger,
		state:   make([]endpointState, len(hosts)),
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Price fetches the current spot price for a symbol, trying each mirror in
// order until one answers with a positive decimal.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c == nil || len(c.clients) == 0 {
		return decimal.Decimal{}, fmt.Errorf("price client not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("symbol is required")
	}

	var lastErr error
	for i, rc := range c.clients {
		var out tickerPrice
		resp, err := rc.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&out).
			Get("/api/v3/ticker/price")
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", c.hosts[i], err)
			c.markError(i, lastErr)
			metrics.FeedRequestsTotal.WithLabelValues(c.hosts[i], "error").Inc()
			continue
		}
		if !resp.IsSuccess() {
			lastErr = fmt.Errorf("%s: status %d: %s", c.hosts[i], resp.StatusCode(), snippet(resp.Body()))
			c.markError(i, lastErr)
			metrics.FeedRequestsTotal.WithLabelValues(c.hosts[i], "error").Inc()
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(out.Price))
		if err != nil || !price.IsPositive() {
			lastErr = fmt.Errorf("%s: unusable price %q for %s", c.hosts[i], out.Price, symbol)
			c.markError(i, lastErr)
			metrics.FeedRequestsTotal.WithLabelValues(c.hosts[i], "error").Inc()
			continue
		}
		c.markOK(i)
		metrics.FeedRequestsTotal.WithLabelValues(c.hosts[i], "ok").Inc()
		return price, nil
	}
	if c.logger != nil {
		c.logger.Warn("all price endpoints failed",
			zap.String("symbol", symbol), zap.Error(lastErr))
	}
	return decimal.Decimal{}, fmt.Errorf("price unavailable for %s: %w", symbol, lastErr)
}

func (c *Client) markOK(i int) {
	now := time.Now().UTC()
	c.mu.Lock()
	c.state[i].lastOKAt = &now
	c.state[i].lastError = nil
	c.mu.Unlock()
}

func (c *Client) markError(i int, err error) {
	msg := err.Error()
	c.mu.Lock()
	c.state[i].lastError = &msg
	c.mu.Unlock()
}

// Health snapshots each mirror's last observed state.
func (c *Client) Health() []SourceHealth {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SourceHealth, 0, len(c.hosts))
	for i, host := range c.hosts {
		status := "unknown"
		if c.state[i].lastError != nil {
			status = "error"
		} else if c.state[i].lastOKAt != nil {
			status = "ok"
		}
		out = append(out, SourceHealth{
			Name:       fmt.Sprintf("price_rest_%d", i),
			Endpoint:   host,
			Status:     status,
			LastPollAt: c.state[i].lastOKAt,
			LastError:  c.state[i].lastError,
		})
	}
	return out
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
