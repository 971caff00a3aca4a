// Package resolver runs the background loops that close positions: expired
// predictions on a short tick, leveraged positions against their trigger
// levels on a medium tick, and event markets against the external outcome
// source on a long tick. The loops are independent; a fault in one never
// stalls the others.
//
// Each eligible position settles in its own transaction. A failed item is
// logged and skipped; because it stays settleable it is simply picked up
// again on the next tick.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"betengine/internal/outcomefeed"
)

// PriceSource supplies the current reference price for a symbol. A fetch
// error means no settlement for that symbol this cycle; prices are never
// fabricated.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OutcomeSource reports whether an external market has resolved and, if so,
// the winning outcome name.
type OutcomeSource interface {
	Resolution(ctx context.Context, ref string) (outcomefeed.Resolution, error)
}

// LoopStatus is a snapshot of a loop's most recent cycle, exposed through
// the ops endpoints.
type LoopStatus struct {
	Loop       string     `json:"loop"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	Settled    int        `json:"settled"`
	Errors     int        `json:"errors"`
	DurationMs int64      `json:"duration_ms"`
}

type loopState struct {
	mu   sync.Mutex
	last LoopStatus
}

func (s *loopState) record(st LoopStatus) {
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
}

// Status returns the snapshot of the most recent cycle.
func (s *loopState) Status() LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
