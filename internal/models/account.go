package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's spendable balance. The balance is mutated only
// through the ledger adjust primitive, never written directly.
type Account struct {
	ID      uint64          `gorm:"primaryKey"`
	Balance decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}
