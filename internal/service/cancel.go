package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/metrics"
	"betengine/internal/models"
)

// CancelEventPosition voids a pending or open event position and refunds
// the stake verbatim. A position that already reached a terminal state is
// rejected with ErrAlreadySettled.
func (s *SettlementService) CancelEventPosition(ctx context.Context, positionID uint64) error {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		pos, err := s.Repo.GetEventPositionForUpdateTx(ctx, tx, positionID)
		if err != nil {
			return err
		}
		if err := guardSettleable(pos); err != nil {
			return err
		}
		if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, pos.Stake, models.ReasonRefund, eventRef(pos.ID)); err != nil {
			return err
		}
		now := time.Now().UTC()
		return s.Repo.UpdateEventPositionStatusTx(ctx, tx, pos.ID, models.StatusCancelled, &now)
	})
	if err != nil {
		return err
	}
	metrics.SettlementsTotal.WithLabelValues(string(models.KindEvent), string(models.StatusCancelled)).Inc()
	if s.Logger != nil {
		s.Logger.Info("event position cancelled", zap.Uint64("position_id", positionID))
	}
	return nil
}

// CancelPricePosition voids a pending or open price position and refunds
// the stake verbatim.
func (s *SettlementService) CancelPricePosition(ctx context.Context, positionID uint64) error {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		pos, err := s.Repo.GetPricePositionForUpdateTx(ctx, tx, positionID)
		if err != nil {
			return err
		}
		if err := guardSettleable(pos); err != nil {
			return err
		}
		if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, pos.Stake, models.ReasonRefund, priceRef(pos.ID)); err != nil {
			return err
		}
		now := time.Now().UTC()
		return s.Repo.UpdatePricePositionStatusTx(ctx, tx, pos.ID, models.StatusCancelled, &now)
	})
	if err != nil {
		return err
	}
	metrics.SettlementsTotal.WithLabelValues(string(models.KindPrice), string(models.StatusCancelled)).Inc()
	if s.Logger != nil {
		s.Logger.Info("price position cancelled", zap.Uint64("position_id", positionID))
	}
	return nil
}

// CancelPrediction voids a pending or open prediction and refunds the
// stake verbatim.
func (s *SettlementService) CancelPrediction(ctx context.Context, positionID uint64) error {
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		pos, err := s.Repo.GetPredictionForUpdateTx(ctx, tx, positionID)
		if err != nil {
			return err
		}
		if err := guardSettleable(pos); err != nil {
			return err
		}
		if _, err := s.Ledger.Adjust(ctx, tx, pos.AccountID, pos.Stake, models.ReasonRefund, predictionRef(pos.ID)); err != nil {
			return err
		}
		now := time.Now().UTC()
		return s.Repo.UpdatePredictionStatusTx(ctx, tx, pos.ID, models.StatusCancelled, &now)
	})
	if err != nil {
		return err
	}
	metrics.SettlementsTotal.WithLabelValues(string(models.KindPrediction), string(models.StatusCancelled)).Inc()
	if s.Logger != nil {
		s.Logger.Info("prediction cancelled", zap.Uint64("position_id", positionID))
	}
	return nil
}
