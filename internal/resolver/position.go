package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/config"
	"betengine/internal/metrics"
	"betengine/internal/models"
	"betengine/internal/repository"
	"betengine/internal/service"
)

// PositionResolver watches open leveraged positions and closes any whose
// trigger level the current price has crossed. Liquidation is checked
// before take-profit, take-profit before stop-loss; the first hit wins and
// the position settles at the fetched price.
type PositionResolver struct {
	Repo    repository.Repository
	Settler *service.SettlementService
	Prices  PriceSource
	Logger  *zap.Logger
	Config  config.ResolverConfig
	Flags   *service.SystemSettingsService

	loopState
}

func (r *PositionResolver) Run(ctx context.Context) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	interval := r.Config.PositionInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil && r.Logger != nil {
			r.Logger.Warn("position cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle over all open price positions.
func (r *PositionResolver) RunOnce(ctx context.Context) error {
	if r == nil || r.Repo == nil || r.Settler == nil || r.Prices == nil {
		return nil
	}
	if r.Flags != nil && !r.Flags.IsEnabled(ctx, service.FeatureResolverPositions, true) {
		return nil
	}
	start := time.Now()
	st := LoopStatus{Loop: "positions"}

	open, err := r.Repo.ListOpenPricePositions(ctx, r.Config.BatchSize)
	if err != nil {
		now := start.UTC()
		st.LastRunAt = &now
		st.LastError = errString(err)
		r.record(st)
		return err
	}

	prices := make(map[string]decimal.Decimal)
	failed := make(map[string]bool)
	for _, pos := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		price, ok := prices[pos.Symbol]
		if !ok {
			if failed[pos.Symbol] {
				continue
			}
			price, err = r.Prices.Price(ctx, pos.Symbol)
			if err != nil {
				failed[pos.Symbol] = true
				st.Errors++
				metrics.ResolverItemErrorsTotal.WithLabelValues("positions").Inc()
				if r.Logger != nil {
					r.Logger.Warn("price unavailable, skipping symbol this cycle",
						zap.String("symbol", pos.Symbol), zap.Error(err))
				}
				continue
			}
			prices[pos.Symbol] = price
		}

		trigger, hit := closeTrigger(pos, price)
		if !hit {
			continue
		}
		posID := pos.ID
		err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
			_, err := r.Settler.SettlePricePositionTx(ctx, tx, posID, price)
			return err
		})
		if err != nil {
			if errors.Is(err, service.ErrAlreadySettled) {
				continue
			}
			st.Errors++
			metrics.ResolverItemErrorsTotal.WithLabelValues("positions").Inc()
			if r.Logger != nil {
				r.Logger.Warn("position settlement skipped",
					zap.Uint64("position_id", posID),
					zap.String("trigger", trigger),
					zap.Error(err))
			}
			continue
		}
		st.Settled++
		if r.Logger != nil {
			r.Logger.Info("position closed by trigger",
				zap.Uint64("position_id", posID),
				zap.String("symbol", pos.Symbol),
				zap.String("trigger", trigger),
				zap.String("price", price.String()))
		}
	}

	now := start.UTC()
	st.LastRunAt = &now
	st.DurationMs = time.Since(start).Milliseconds()
	r.record(st)
	metrics.ResolverCycleSeconds.WithLabelValues("positions").Observe(time.Since(start).Seconds())
	return nil
}

// closeTrigger reports which trigger, if any, the price has crossed.
// Order matters: a price through the liquidation level settles as a
// liquidation even when a user stop would also fire.
func closeTrigger(pos models.PricePosition, price decimal.Decimal) (string, bool) {
	if pos.Direction == models.DirectionLong {
		if price.LessThanOrEqual(pos.LiquidationPrice) {
			return "liquidation", true
		}
		if pos.TakeProfit != nil && price.GreaterThanOrEqual(*pos.TakeProfit) {
			return "take_profit", true
		}
		if pos.StopLoss != nil && price.LessThanOrEqual(*pos.StopLoss) {
			return "stop_loss", true
		}
		return "", false
	}
	if price.GreaterThanOrEqual(pos.LiquidationPrice) {
		return "liquidation", true
	}
	if pos.TakeProfit != nil && price.LessThanOrEqual(*pos.TakeProfit) {
		return "take_profit", true
	}
	if pos.StopLoss != nil && price.GreaterThanOrEqual(*pos.StopLoss) {
		return "stop_loss", true
	}
	return "", false
}
