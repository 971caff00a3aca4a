// Package ledger is the balance-of-record store. Adjust is the only legal
// way to change an account balance; every other component goes through it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"betengine/internal/metrics"
	"betengine/internal/models"
	"betengine/internal/repository"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Ledger struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Adjust applies a signed delta to one account balance. It reads the account
// row under an exclusive lock (creating it at zero on first touch), holds the
// lock for this read-modify-write only, and appends an audit entry. A delta
// that would take the balance below zero aborts with ErrInsufficientFunds and
// writes nothing. Adjustments to one account are totally ordered by the row
// lock; different accounts never contend.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, accountID uint64, delta decimal.Decimal, reason, positionRef string) (decimal.Decimal, error) {
	acct, err := l.Repo.EnsureAccountTx(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("account %d: balance %s with delta %s: %w",
			accountID, acct.Balance, delta, ErrInsufficientFunds)
	}
	if err := l.Repo.UpdateAccountBalanceTx(ctx, tx, accountID, next); err != nil {
		return decimal.Zero, err
	}
	entry := &models.LedgerEntry{
		AccountID: accountID,
		Amount:    delta,
		Balance:   next,
		Reason:    reason,
		Reference: uuid.NewString(),
	}
	if ref := strings.TrimSpace(positionRef); ref != "" {
		entry.PositionRef = &ref
	}
	if err := l.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerAdjustments.WithLabelValues(reason).Inc()
	return next, nil
}

// Deposit credits an account outside any placement flow, for provisioning.
func (l *Ledger) Deposit(ctx context.Context, accountID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit %s: amount must be positive", amount)
	}
	var balance decimal.Decimal
	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		next, err := l.Adjust(ctx, tx, accountID, amount, models.ReasonDeposit, "")
		if err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if l.Logger != nil {
		l.Logger.Info("account funded",
			zap.Uint64("account_id", accountID),
			zap.String("amount", amount.String()),
			zap.String("balance", balance.String()),
		)
	}
	return balance, nil
}
