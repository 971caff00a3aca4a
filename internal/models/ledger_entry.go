package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReasonStake   = "stake"
	ReasonPayout  = "payout"
	ReasonRefund  = "refund"
	ReasonDeposit = "deposit"
)

// LedgerEntry is an append-only audit record of a single balance adjustment.
// Amount is signed; Balance is the account balance after applying it.
type LedgerEntry struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index"`

	Amount  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Balance decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Reason      string  `gorm:"type:varchar(20);not null;index"`
	Reference   string  `gorm:"type:varchar(40);not null;uniqueIndex"`
	PositionRef *string `gorm:"type:varchar(40);index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
