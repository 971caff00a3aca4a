package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"betengine/internal/config"
	"betengine/internal/ledger"
	"betengine/internal/models"
	"betengine/internal/repository"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidOdds    = errors.New("invalid odds")
	ErrAlreadySettled = errors.New("already settled")
)

// SettlementService owns the financial formulas: it validates and prices new
// positions, computes payouts, and finalizes positions to a terminal state
// exactly once. All persistence goes through Repo, all balance mutation
// through Ledger; transaction boundaries stay with this service so a
// placement or settlement is one atomic unit.
//
// Lock order inside a transaction is always position row first, then account
// row.
type SettlementService struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
	Logger *zap.Logger
	Limits config.BettingLimits
}

// round8 is the money rounding used across the engine: 8 decimal places,
// ties away from zero.
func round8(d decimal.Decimal) decimal.Decimal {
	return d.Round(8)
}

// guardSettleable enforces the single idempotency rule: a position leaves
// pending/open exactly once. Callers holding the row lock may retry safely;
// the loser of a settle/cancel race sees ErrAlreadySettled and no side
// effects.
func guardSettleable(p models.Position) error {
	if !p.CurrentStatus().Settleable() {
		return fmt.Errorf("%s position in status %q: %w", p.Kind(), p.CurrentStatus(), ErrAlreadySettled)
	}
	return nil
}

func (s *SettlementService) validateStake(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return fmt.Errorf("stake %s must be positive: %w", stake, ErrInvalidAmount)
	}
	if stake.LessThan(s.Limits.MinStake) || stake.GreaterThan(s.Limits.MaxStake) {
		return fmt.Errorf("stake %s outside [%s, %s]: %w",
			stake, s.Limits.MinStake, s.Limits.MaxStake, ErrInvalidAmount)
	}
	return nil
}

// Ledger entry position references.
func eventRef(id uint64) string      { return fmt.Sprintf("evt:%d", id) }
func priceRef(id uint64) string      { return fmt.Sprintf("pos:%d", id) }
func predictionRef(id uint64) string { return fmt.Sprintf("pred:%d", id) }
