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
	"betengine/internal/repository"
	"betengine/internal/service"
)

// PredictionResolver settles fixed-duration predictions whose expiry has
// passed, at the current reference price for their symbol.
type PredictionResolver struct {
	Repo    repository.Repository
	Settler *service.SettlementService
	Prices  PriceSource
	Logger  *zap.Logger
	Config  config.ResolverConfig
	Flags   *service.SystemSettingsService

	loopState
}

func (r *PredictionResolver) Run(ctx context.Context) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	interval := r.Config.PredictionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil && r.Logger != nil {
			r.Logger.Warn("prediction cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle: list due predictions, fetch one price per
// distinct symbol, settle each in its own transaction.
func (r *PredictionResolver) RunOnce(ctx context.Context) error {
	if r == nil || r.Repo == nil || r.Settler == nil || r.Prices == nil {
		return nil
	}
	if r.Flags != nil && !r.Flags.IsEnabled(ctx, service.FeatureResolverPredictions, true) {
		return nil
	}
	start := time.Now()
	st := LoopStatus{Loop: "predictions"}

	due, err := r.Repo.ListDuePredictions(ctx, start.UTC(), r.Config.BatchSize)
	if err != nil {
		now := start.UTC()
		st.LastRunAt = &now
		st.LastError = errString(err)
		r.record(st)
		return err
	}

	prices := make(map[string]decimal.Decimal)
	failed := make(map[string]bool)
	for _, pred := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		price, ok := prices[pred.Symbol]
		if !ok {
			if failed[pred.Symbol] {
				continue
			}
			price, err = r.Prices.Price(ctx, pred.Symbol)
			if err != nil {
				failed[pred.Symbol] = true
				st.Errors++
				metrics.ResolverItemErrorsTotal.WithLabelValues("predictions").Inc()
				if r.Logger != nil {
					r.Logger.Warn("price unavailable, skipping symbol this cycle",
						zap.String("symbol", pred.Symbol), zap.Error(err))
				}
				continue
			}
			prices[pred.Symbol] = price
		}

		predID := pred.ID
		err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
			_, err := r.Settler.SettlePredictionTx(ctx, tx, predID, price)
			return err
		})
		if err != nil {
			if errors.Is(err, service.ErrAlreadySettled) {
				continue
			}
			st.Errors++
			metrics.ResolverItemErrorsTotal.WithLabelValues("predictions").Inc()
			if r.Logger != nil {
				r.Logger.Warn("prediction settlement skipped",
					zap.Uint64("position_id", predID), zap.Error(err))
			}
			continue
		}
		st.Settled++
	}

	now := start.UTC()
	st.LastRunAt = &now
	st.DurationMs = time.Since(start).Milliseconds()
	r.record(st)
	metrics.ResolverCycleSeconds.WithLabelValues("predictions").Observe(time.Since(start).Seconds())
	return nil
}
