package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"betengine/internal/metrics"
)

const defaultStreamURL = "wss://stream.binance.com:9443/ws"

// SymbolProvider returns the symbols the stream should be subscribed to,
// typically the distinct symbols with open positions.
type SymbolProvider func(context.Context) ([]string, error)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type tickerEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

type wsClient struct {
	url    string
	conn   *websocket.Conn
	nextID int64
}

func newWSClient(url string) *wsClient {
	if strings.TrimSpace(url) == "" {
		url = defaultStreamURL
	}
	return &wsClient{url: url}
}

func (c *wsClient) connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("ws client is nil")
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20) // 1MB
	c.conn = conn
	return nil
}

func (c *wsClient) close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *wsClient) send(ctx context.Context, method string, symbols []string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		params = append(params, s+"@miniTicker")
	}
	if len(params) == 0 {
		return fmt.Errorf("no symbols to %s", strings.ToLower(method))
	}
	c.nextID++
	payload, err := json.Marshal(subscribeRequest{Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsClient) read(ctx context.Context) (tickerEvent, error) {
	if c == nil || c.conn == nil {
		return tickerEvent{}, fmt.Errorf("ws not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return tickerEvent{}, err
	}
	var ev tickerEvent
	_ = json.Unmarshal(data, &ev)
	return ev, nil
}

// StreamOptions configure the ticker stream.
type StreamOptions struct {
	URL               string
	Symbols           []string
	SymbolProvider    SymbolProvider
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// Stream maintains a subscription to the ticker stream, reconnecting with
// bounded exponential backoff. It only ever warms the quote cache; REST
// polling continues to work whether or not the stream is up.
type Stream struct {
	opts      StreamOptions
	seenFirst bool
}

func NewStream(opts StreamOptions) *Stream {
	if opts.URL == "" {
		opts.URL = defaultStreamURL
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Stream{opts: opts}
}

// Run connects, subscribes, and pumps ticks into onTick until the context
// ends. Connection loss backs off and redials; the caller keeps running on
// REST polling in the meantime.
func (s *Stream) Run(ctx context.Context, onTick func(symbol string, price decimal.Decimal, at time.Time)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := newWSClient(s.opts.URL)
		if err := client.connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price stream connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}

		symbols := s.opts.Symbols
		if s.opts.SymbolProvider != nil {
			if got, err := s.opts.SymbolProvider(ctx); err == nil {
				symbols = got
			}
		}
		if len(symbols) == 0 {
			_ = client.close(websocket.StatusNormalClosure, "no symbols")
			metrics.PriceStreamConnected.Set(0)
			if err := sleepWithJitter(ctx, s.opts.RefreshInterval); err != nil {
				return err
			}
			continue
		}
		if err := client.send(ctx, "SUBSCRIBE", symbols); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price stream subscribe failed", zap.Error(err))
			}
			_ = client.close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("price stream subscribed",
				zap.Int("symbols", len(symbols)), zap.String("url", s.opts.URL))
		}
		metrics.PriceStreamConnected.Set(1)
		backoff = s.opts.BackoffMin

		err := s.consume(ctx, client, onTick, setFromSlice(symbols))
		_ = client.close(websocket.StatusNormalClosure, "reconnect")
		metrics.PriceStreamConnected.Set(0)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *Stream) consume(ctx context.Context, client *wsClient, onTick func(string, decimal.Decimal, time.Time), current map[string]struct{}) error {
	if client == nil {
		return fmt.Errorf("ws client is nil")
	}
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var refreshErr chan error
	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := client.conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	if s.opts.SymbolProvider != nil && s.opts.RefreshInterval > 0 {
		refreshErr = make(chan error, 1)
		go func() {
			ticker := time.NewTicker(s.opts.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-refreshCtx.Done():
					refreshErr <- refreshCtx.Err()
					return
				case <-ticker.C:
					symbols, err := s.opts.SymbolProvider(refreshCtx)
					if err != nil {
						continue
					}
					next := setFromSlice(symbols)
					added, removed := diffSets(current, next)
					if len(added) > 0 {
						_ = client.send(refreshCtx, "SUBSCRIBE", added)
					}
					if len(removed) > 0 {
						_ = client.send(refreshCtx, "UNSUBSCRIBE", removed)
					}
					current = next
				}
			}
		}()
	}

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case err := <-refreshErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		ev, err := client.read(ctx)
		if err != nil {
			if s.opts.Logger != nil && !errors.Is(err, context.Canceled) {
				s.opts.Logger.Warn("price stream read failed", zap.Error(err))
			}
			return err
		}
		if ev.Symbol == "" || ev.Close == "" {
			continue // subscription ack or unrelated event
		}
		price, err := decimal.NewFromString(strings.TrimSpace(ev.Close))
		if err != nil || !price.IsPositive() {
			continue
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("price stream first tick",
				zap.String("symbol", ev.Symbol), zap.String("price", price.String()))
		}
		if onTick != nil {
			onTick(strings.ToUpper(ev.Symbol), price, time.Now().UTC())
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func setFromSlice(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		out[item] = struct{}{}
	}
	return out
}

func diffSets(current, next map[string]struct{}) ([]string, []string) {
	added := make([]string, 0)
	removed := make([]string, 0)
	for key := range next {
		if _, ok := current[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range current {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	return added, removed
}
