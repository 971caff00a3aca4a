package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/ledger"
	"betengine/internal/metrics"
	"betengine/internal/models"
	"betengine/internal/repository"
)

// PlaceEventParams describes a stake on one outcome of an event market.
type PlaceEventParams struct {
	AccountID    uint64
	MarketID     uint64
	OutcomeIndex int
	Direction    models.Direction
	Stake        decimal.Decimal
}

// EventReceipt is returned to the caller after a successful event placement.
type EventReceipt struct {
	PositionID      uint64          `json:"position_id"`
	Shares          decimal.Decimal `json:"shares"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
}

// PlaceEventPosition prices an event position at the market's current quote
// for the chosen outcome and opens it. The debit and the pending row commit
// together; promotion to open is a separate write so a crash in between
// leaves a pending row the promotion sweep picks up.
func (s *SettlementService) PlaceEventPosition(ctx context.Context, p PlaceEventParams) (*EventReceipt, error) {
	if err := s.validateStake(p.Stake); err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues("stake").Inc()
		return nil, err
	}
	if p.Direction != models.DirectionYes && p.Direction != models.DirectionNo {
		metrics.PlacementRejectsTotal.WithLabelValues("direction").Inc()
		return nil, fmt.Errorf("direction %q is not valid for an event position", p.Direction)
	}

	pos := &models.EventPosition{
		AccountID:    p.AccountID,
		MarketID:     p.MarketID,
		OutcomeIndex: p.OutcomeIndex,
		Direction:    p.Direction,
		Stake:        p.Stake,
		Status:       models.StatusPending,
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		market, err := s.Repo.GetMarketTx(ctx, tx, p.MarketID)
		if err != nil {
			return err
		}
		if market.Status != models.MarketStatusOpen {
			return fmt.Errorf("market %d is %s: %w", market.ID, market.Status, ErrAlreadySettled)
		}
		price, err := market.PriceForOutcome(p.OutcomeIndex)
		if err != nil {
			return fmt.Errorf("market %d outcome %d: %v: %w", market.ID, p.OutcomeIndex, err, ErrInvalidOdds)
		}
		if !price.IsPositive() {
			return fmt.Errorf("market %d outcome %d quoted at %s: %w", market.ID, p.OutcomeIndex, price, ErrInvalidOdds)
		}
		pos.EntryPrice = price
		pos.Shares = round8(p.Stake.Div(price))
		pos.PotentialPayout = pos.Shares
		if err := s.Repo.CreateEventPositionTx(ctx, tx, pos); err != nil {
			return err
		}
		_, err = s.Ledger.Adjust(ctx, tx, p.AccountID, p.Stake.Neg(), models.ReasonStake, eventRef(pos.ID))
		return err
	})
	if err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	s.promoteEvent(ctx, pos.ID)
	metrics.PlacementsTotal.WithLabelValues(string(models.KindEvent)).Inc()
	if s.Logger != nil {
		s.Logger.Info("event position placed",
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("account_id", p.AccountID),
			zap.Uint64("market_id", p.MarketID),
			zap.Int("outcome_index", p.OutcomeIndex),
			zap.String("stake", p.Stake.String()),
			zap.String("shares", pos.Shares.String()))
	}
	return &EventReceipt{
		PositionID:      pos.ID,
		Shares:          pos.Shares,
		EntryPrice:      pos.EntryPrice,
		PotentialPayout: pos.PotentialPayout,
	}, nil
}

// PlacePriceParams describes a leveraged directional position on a symbol.
type PlacePriceParams struct {
	AccountID  uint64
	Symbol     string
	Direction  models.Direction
	Stake      decimal.Decimal
	Leverage   decimal.Decimal
	EntryPrice decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// PriceReceipt is returned after a successful price-position placement.
type PriceReceipt struct {
	PositionID       uint64          `json:"position_id"`
	PositionSize     decimal.Decimal `json:"position_size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// PlacePricePosition opens a leveraged long or short. Position size is
// stake times leverage; the liquidation price is where the adverse move
// wipes the stake exactly.
func (s *SettlementService) PlacePricePosition(ctx context.Context, p PlacePriceParams) (*PriceReceipt, error) {
	if err := s.validateStake(p.Stake); err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues("stake").Inc()
		return nil, err
	}
	one := decimal.NewFromInt(1)
	if p.Leverage.LessThan(one) || p.Leverage.GreaterThan(s.Limits.MaxLeverage) {
		metrics.PlacementRejectsTotal.WithLabelValues("leverage").Inc()
		return nil, fmt.Errorf("leverage %s outside [1, %s]: %w", p.Leverage, s.Limits.MaxLeverage, ErrInvalidAmount)
	}
	if p.Direction != models.DirectionLong && p.Direction != models.DirectionShort {
		metrics.PlacementRejectsTotal.WithLabelValues("direction").Inc()
		return nil, fmt.Errorf("direction %q is not valid for a price position", p.Direction)
	}
	if !p.EntryPrice.IsPositive() {
		metrics.PlacementRejectsTotal.WithLabelValues("price").Inc()
		return nil, fmt.Errorf("entry price %s: %w", p.EntryPrice, ErrInvalidOdds)
	}
	if p.Symbol == "" {
		metrics.PlacementRejectsTotal.WithLabelValues("symbol").Inc()
		return nil, fmt.Errorf("symbol is required")
	}

	// Liquidation sits one full 1/leverage move against the entry.
	step := one.Div(p.Leverage)
	var liq decimal.Decimal
	if p.Direction == models.DirectionLong {
		liq = p.EntryPrice.Mul(one.Sub(step))
	} else {
		liq = p.EntryPrice.Mul(one.Add(step))
	}

	pos := &models.PricePosition{
		AccountID:        p.AccountID,
		Symbol:           p.Symbol,
		Direction:        p.Direction,
		Stake:            p.Stake,
		Leverage:         p.Leverage,
		EntryPrice:       p.EntryPrice,
		PositionSize:     round8(p.Stake.Mul(p.Leverage)),
		LiquidationPrice: liq,
		TakeProfit:       p.TakeProfit,
		StopLoss:         p.StopLoss,
		Status:           models.StatusPending,
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreatePricePositionTx(ctx, tx, pos); err != nil {
			return err
		}
		_, err := s.Ledger.Adjust(ctx, tx, p.AccountID, p.Stake.Neg(), models.ReasonStake, priceRef(pos.ID))
		return err
	})
	if err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	s.promotePrice(ctx, pos.ID)
	metrics.PlacementsTotal.WithLabelValues(string(models.KindPrice)).Inc()
	if s.Logger != nil {
		s.Logger.Info("price position placed",
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("account_id", p.AccountID),
			zap.String("symbol", p.Symbol),
			zap.String("direction", string(p.Direction)),
			zap.String("stake", p.Stake.String()),
			zap.String("leverage", p.Leverage.String()),
			zap.String("liquidation_price", liq.String()))
	}
	return &PriceReceipt{
		PositionID:       pos.ID,
		PositionSize:     pos.PositionSize,
		EntryPrice:       pos.EntryPrice,
		LiquidationPrice: pos.LiquidationPrice,
	}, nil
}

// PlacePredictionParams describes a fixed-duration up/down bet on a symbol.
type PlacePredictionParams struct {
	AccountID  uint64
	Symbol     string
	Direction  models.Direction
	Stake      decimal.Decimal
	Odds       decimal.Decimal
	EntryPrice decimal.Decimal
	Duration   time.Duration
}

// PredictionReceipt is returned after a successful prediction placement.
type PredictionReceipt struct {
	PositionID      uint64          `json:"position_id"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// PlacePrediction opens a fixed-duration prediction that pays stake times
// odds if the price moves the called way by expiry.
func (s *SettlementService) PlacePrediction(ctx context.Context, p PlacePredictionParams) (*PredictionReceipt, error) {
	if err := s.validateStake(p.Stake); err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues("stake").Inc()
		return nil, err
	}
	if !p.Odds.GreaterThan(decimal.NewFromInt(1)) {
		metrics.PlacementRejectsTotal.WithLabelValues("odds").Inc()
		return nil, fmt.Errorf("odds %s must exceed 1: %w", p.Odds, ErrInvalidOdds)
	}
	if p.Direction != models.DirectionLong && p.Direction != models.DirectionShort {
		metrics.PlacementRejectsTotal.WithLabelValues("direction").Inc()
		return nil, fmt.Errorf("direction %q is not valid for a prediction", p.Direction)
	}
	if !p.EntryPrice.IsPositive() {
		metrics.PlacementRejectsTotal.WithLabelValues("price").Inc()
		return nil, fmt.Errorf("entry price %s: %w", p.EntryPrice, ErrInvalidOdds)
	}
	if p.Duration <= 0 {
		metrics.PlacementRejectsTotal.WithLabelValues("duration").Inc()
		return nil, fmt.Errorf("duration %s must be positive", p.Duration)
	}
	if p.Symbol == "" {
		metrics.PlacementRejectsTotal.WithLabelValues("symbol").Inc()
		return nil, fmt.Errorf("symbol is required")
	}

	now := time.Now().UTC()
	pos := &models.PricePrediction{
		AccountID:       p.AccountID,
		Symbol:          p.Symbol,
		Direction:       p.Direction,
		Stake:           p.Stake,
		Odds:            p.Odds,
		EntryPrice:      p.EntryPrice,
		PotentialPayout: round8(p.Stake.Mul(p.Odds)),
		DurationSeconds: int64(p.Duration / time.Second),
		Status:          models.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(p.Duration),
	}
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.CreatePredictionTx(ctx, tx, pos); err != nil {
			return err
		}
		_, err := s.Ledger.Adjust(ctx, tx, p.AccountID, p.Stake.Neg(), models.ReasonStake, predictionRef(pos.ID))
		return err
	})
	if err != nil {
		metrics.PlacementRejectsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	s.promotePrediction(ctx, pos.ID)
	metrics.PlacementsTotal.WithLabelValues(string(models.KindPrediction)).Inc()
	if s.Logger != nil {
		s.Logger.Info("prediction placed",
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("account_id", p.AccountID),
			zap.String("symbol", p.Symbol),
			zap.String("odds", p.Odds.String()),
			zap.Time("expires_at", pos.ExpiresAt))
	}
	return &PredictionReceipt{
		PositionID:      pos.ID,
		PotentialPayout: pos.PotentialPayout,
		ExpiresAt:       pos.ExpiresAt,
	}, nil
}

// promoteEvent and friends flip a freshly committed pending row to open.
// Failure here is not fatal: the row is durable and the pending sweep will
// promote it on the next cron pass.
func (s *SettlementService) promoteEvent(ctx context.Context, id uint64) {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.UpdateEventPositionStatusTx(ctx, tx, id, models.StatusOpen, nil)
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("promote event position", zap.Uint64("position_id", id), zap.Error(err))
	}
}

func (s *SettlementService) promotePrice(ctx context.Context, id uint64) {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.UpdatePricePositionStatusTx(ctx, tx, id, models.StatusOpen, nil)
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("promote price position", zap.Uint64("position_id", id), zap.Error(err))
	}
}

func (s *SettlementService) promotePrediction(ctx context.Context, id uint64) {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.UpdatePredictionStatusTx(ctx, tx, id, models.StatusOpen, nil)
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("promote prediction", zap.Uint64("position_id", id), zap.Error(err))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		return "amount"
	case errors.Is(err, ErrInvalidOdds):
		return "odds"
	case errors.Is(err, repository.ErrMarketNotFound):
		return "market"
	default:
		return "other"
	}
}
