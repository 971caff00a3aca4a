package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/config"
	"betengine/internal/metrics"
	"betengine/internal/models"
	"betengine/internal/repository"
	"betengine/internal/service"
)

// MarketResolver polls the outcome source for every market that still has
// settleable positions. Once the source reports a resolution it settles all
// of them against the winning outcome index and finally marks the local
// market record resolved.
type MarketResolver struct {
	Repo     repository.Repository
	Settler  *service.SettlementService
	Outcomes OutcomeSource
	Logger   *zap.Logger
	Config   config.ResolverConfig
	Flags    *service.SystemSettingsService

	loopState
}

func (r *MarketResolver) Run(ctx context.Context) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	interval := r.Config.MarketInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil && r.Logger != nil {
			r.Logger.Warn("market cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cycle over all markets with settleable
// positions.
func (r *MarketResolver) RunOnce(ctx context.Context) error {
	if r == nil || r.Repo == nil || r.Settler == nil || r.Outcomes == nil {
		return nil
	}
	if r.Flags != nil && !r.Flags.IsEnabled(ctx, service.FeatureResolverMarkets, true) {
		return nil
	}
	start := time.Now()
	st := LoopStatus{Loop: "markets"}

	markets, err := r.Repo.ListMarketsWithOpenPositions(ctx, r.Config.BatchSize)
	if err != nil {
		now := start.UTC()
		st.LastRunAt = &now
		st.LastError = errString(err)
		r.record(st)
		return err
	}

	for _, market := range markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		settled, err := r.resolveMarket(ctx, market)
		st.Settled += settled
		if err != nil {
			st.Errors++
			metrics.ResolverItemErrorsTotal.WithLabelValues("markets").Inc()
			if r.Logger != nil {
				r.Logger.Warn("market resolution skipped",
					zap.Uint64("market_id", market.ID), zap.Error(err))
			}
		}
	}

	now := start.UTC()
	st.LastRunAt = &now
	st.DurationMs = time.Since(start).Milliseconds()
	r.record(st)
	metrics.ResolverCycleSeconds.WithLabelValues("markets").Observe(time.Since(start).Seconds())
	return nil
}

// resolveMarket polls one market and, if resolved, settles its open
// positions. The market record is only marked resolved after every position
// settled cleanly; leftovers are retried next cycle.
func (r *MarketResolver) resolveMarket(ctx context.Context, market models.Market) (int, error) {
	ref := strings.TrimSpace(market.OutcomeRef)
	if ref == "" {
		return 0, nil
	}
	res, err := r.Outcomes.Resolution(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !res.Resolved {
		return 0, nil
	}
	winIdx, err := winningIndex(market, res.Winner)
	if err != nil {
		return 0, err
	}

	positions, err := r.Repo.ListOpenEventPositionsByMarket(ctx, market.ID)
	if err != nil {
		return 0, err
	}
	settled, failures := 0, 0
	for _, pos := range positions {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		posID := pos.ID
		err := r.Repo.InTx(ctx, func(tx *gorm.DB) error {
			_, err := r.Settler.SettleEventPositionTx(ctx, tx, posID, winIdx)
			return err
		})
		if err != nil {
			if errors.Is(err, service.ErrAlreadySettled) {
				continue
			}
			failures++
			if r.Logger != nil {
				r.Logger.Warn("event settlement skipped",
					zap.Uint64("position_id", posID),
					zap.Uint64("market_id", market.ID),
					zap.Error(err))
			}
			continue
		}
		settled++
	}
	if failures > 0 {
		return settled, fmt.Errorf("market %d: %d of %d settlements failed", market.ID, failures, len(positions))
	}

	now := time.Now().UTC()
	err = r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return r.Repo.MarkMarketResolvedTx(ctx, tx, market.ID, winIdx, now)
	})
	if err != nil {
		return settled, err
	}
	if r.Logger != nil {
		r.Logger.Info("market resolved",
			zap.Uint64("market_id", market.ID),
			zap.Int("winning_outcome", winIdx),
			zap.String("winner", res.Winner),
			zap.Int("positions_settled", settled))
	}
	return settled, nil
}

// winningIndex maps the outcome source's winner name onto the market's
// outcome list, case-insensitively.
func winningIndex(market models.Market, winner string) (int, error) {
	names, err := market.OutcomeNames()
	if err != nil {
		return 0, fmt.Errorf("market %d outcomes: %w", market.ID, err)
	}
	want := strings.TrimSpace(winner)
	for i, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), want) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("market %d: winner %q not among %d outcomes", market.ID, winner, len(names))
}
