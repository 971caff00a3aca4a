package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quote is one cached observation from the stream.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
}

// Feed answers price lookups from the stream-fed cache when fresh and falls
// back to REST polling otherwise.
type Feed struct {
	REST       *Client
	Logger     *zap.Logger
	StaleAfter time.Duration

	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewFeed(rest *Client, staleAfter time.Duration, logger *zap.Logger) *Feed {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Second
	}
	return &Feed{
		REST:       rest,
		Logger:     logger,
		StaleAfter: staleAfter,
		quotes:     make(map[string]Quote),
	}
}

// Price returns the cached stream quote if it is fresh enough, otherwise it
// polls the REST mirrors.
func (f *Feed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if f != nil {
		f.mu.RLock()
		q, ok := f.quotes[symbol]
		f.mu.RUnlock()
		if ok && time.Since(q.At) <= f.StaleAfter {
			return q.Price, nil
		}
	}
	return f.REST.Price(ctx, symbol)
}

// Observe records a stream tick. Non-positive prices are dropped.
func (f *Feed) Observe(symbol string, price decimal.Decimal, at time.Time) {
	if f == nil || !price.IsPositive() {
		return
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	f.mu.Lock()
	f.quotes[symbol] = Quote{Price: price, At: at}
	f.mu.Unlock()
}

// RunStream pumps the websocket stream into the cache until ctx ends.
func (f *Feed) RunStream(ctx context.Context, stream *Stream) error {
	if f == nil || stream == nil {
		return nil
	}
	return stream.Run(ctx, f.Observe)
}

// CachedSymbols reports how many symbols currently have a fresh quote.
func (f *Feed) CachedSymbols() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	fresh := 0
	for _, q := range f.quotes {
		if time.Since(q.At) <= f.StaleAfter {
			fresh++
		}
	}
	return fresh
}

// Health reports the REST mirrors' state.
func (f *Feed) Health() []SourceHealth {
	if f == nil {
		return nil
	}
	return f.REST.Health()
}
