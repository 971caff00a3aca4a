package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/metrics"
	"betengine/internal/models"
)

// SettleResult reports one finalized position. Result is the outcome as
// shown to the caller; price positions store CLOSED but report won or lost
// by the sign of their pnl.
type SettleResult struct {
	PositionID uint64              `json:"position_id"`
	Kind       models.PositionKind `json:"kind"`
	Result     models.Status       `json:"result"`
	Credited   decimal.Decimal     `json:"credited"`
	Pnl        decimal.Decimal     `json:"pnl"`
}

// SettleEventPositionTx finalizes one event position against the market's
// winning outcome index. It must run inside the caller's transaction: the
// locked read makes the settle-once guard race free, and the payout credit
// commits together with the status flip.
func (s *SettlementService) SettleEventPositionTx(ctx context.Context, tx *gorm.DB, positionID uint64, winningIndex int) (*SettleResult, error) {
	pos, err := s.Repo.GetEventPositionForUpdateTx(ctx, tx, positionID)
	if err != nil {
		return nil, err
	}
	if err := guardSettleable(pos); err != nil {
		return nil, err
	}

	result := models.StatusLost
	credited := decimal.Zero
	if pos.OutcomeIndex == winningIndex {
		result = models.StatusWon
		credited = pos.PotentialPayout
		if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, credited, models.ReasonPayout, eventRef(pos.ID)); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	if err := s.Repo.UpdateEventPositionPayoutTx(ctx, tx, pos.ID, credited); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateEventPositionStatusTx(ctx, tx, pos.ID, result, &now); err != nil {
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(models.KindEvent), string(result)).Inc()
	if s.Logger != nil {
		s.Logger.Info("event position settled",
			zap.Uint64("position_id", pos.ID),
			zap.Uint64("market_id", pos.MarketID),
			zap.String("result", string(result)),
			zap.String("credited", credited.String()))
	}
	return &SettleResult{
		PositionID: pos.ID,
		Kind:       models.KindEvent,
		Result:     result,
		Credited:   credited,
	}, nil
}

// SettlePricePositionTx closes one leveraged position at the given exit
// price. Pnl is the signed percentage move applied to position size,
// clamped so the account never loses more than the stake; the stake plus
// pnl is credited back in the same transaction.
func (s *SettlementService) SettlePricePositionTx(ctx context.Context, tx *gorm.DB, positionID uint64, exitPrice decimal.Decimal) (*SettleResult, error) {
	pos, err := s.Repo.GetPricePositionForUpdateTx(ctx, tx, positionID)
	if err != nil {
		return nil, err
	}
	if err := guardSettleable(pos); err != nil {
		return nil, err
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("exit price %s for position %d: %w", exitPrice, pos.ID, ErrInvalidOdds)
	}
	if !pos.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("position %d has entry price %s", pos.ID, pos.EntryPrice)
	}

	pctChange := exitPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	pnl := round8(pctChange.Mul(pos.PositionSize).Mul(decimal.NewFromInt(pos.Direction.Sign())))
	if maxLoss := pos.Stake.Neg(); pnl.LessThan(maxLoss) {
		pnl = maxLoss
	}
	credited := pos.Stake.Add(pnl)
	if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, credited, models.ReasonPayout, priceRef(pos.ID)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.Repo.UpdatePricePositionSettlementTx(ctx, tx, pos.ID, exitPrice, pnl, credited); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdatePricePositionStatusTx(ctx, tx, pos.ID, models.StatusClosed, &now); err != nil {
		return nil, err
	}

	result := models.StatusLost
	if pnl.IsPositive() {
		result = models.StatusWon
	}
	metrics.SettlementsTotal.WithLabelValues(string(models.KindPrice), string(result)).Inc()
	if s.Logger != nil {
		s.Logger.Info("price position closed",
			zap.Uint64("position_id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.String("exit_price", exitPrice.String()),
			zap.String("pnl", pnl.String()),
			zap.String("credited", credited.String()))
	}
	return &SettleResult{
		PositionID: pos.ID,
		Kind:       models.KindPrice,
		Result:     result,
		Credited:   credited,
		Pnl:        pnl,
	}, nil
}

// SettlePredictionTx resolves one expired prediction at the given exit
// price. The call wins when the price moved the called way; a flat price
// loses a long and wins a short.
func (s *SettlementService) SettlePredictionTx(ctx context.Context, tx *gorm.DB, positionID uint64, exitPrice decimal.Decimal) (*SettleResult, error) {
	pos, err := s.Repo.GetPredictionForUpdateTx(ctx, tx, positionID)
	if err != nil {
		return nil, err
	}
	if err := guardSettleable(pos); err != nil {
		return nil, err
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("exit price %s for prediction %d: %w", exitPrice, pos.ID, ErrInvalidOdds)
	}

	wentUp := exitPrice.GreaterThan(pos.EntryPrice)
	calledUp := pos.Direction == models.DirectionLong
	result := models.StatusLost
	credited := decimal.Zero
	if wentUp == calledUp {
		result = models.StatusWon
		credited = pos.PotentialPayout
		if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, credited, models.ReasonPayout, predictionRef(pos.ID)); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	if err := s.Repo.UpdatePredictionSettlementTx(ctx, tx, pos.ID, exitPrice, credited); err != nil {
		return nil, err
	}
	if err := s.Repo.UpdatePredictionStatusTx(ctx, tx, pos.ID, result, &now); err != nil {
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(models.KindPrediction), string(result)).Inc()
	if s.Logger != nil {
		s.Logger.Info("prediction settled",
			zap.Uint64("position_id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.String("exit_price", exitPrice.String()),
			zap.String("result", string(result)),
			zap.String("credited", credited.String()))
	}
	return &SettleResult{
		PositionID: pos.ID,
		Kind:       models.KindPrediction,
		Result:     result,
		Credited:   credited,
	}, nil
}
