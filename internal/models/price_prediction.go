package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePrediction is a fixed-duration binary bet that a symbol's price will
// be above (long) or below (short) the entry price at expiry. It carries a
// quoted multiplier instead of leverage and has no intermediate risk levels.
type PricePrediction struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index"`
	Symbol    string `gorm:"type:varchar(30);not null;index"`

	Direction Direction `gorm:"type:varchar(10);not null"`

	Stake           decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	Odds            decimal.Decimal  `gorm:"type:numeric(10,4);not null"`
	EntryPrice      decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	PotentialPayout decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	ExitPrice       *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Payout          *decimal.Decimal `gorm:"type:numeric(30,10)"`

	DurationSeconds int64     `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"type:timestamptz;not null;index"`

	Status     Status     `gorm:"type:varchar(20);not null;default:'pending';index"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (PricePrediction) TableName() string {
	return "price_predictions"
}

func (p *PricePrediction) Kind() PositionKind { return KindPrediction }

func (p *PricePrediction) CurrentStatus() Status { return p.Status }
