package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePosition is a leveraged long/short stake on a continuous price
// market. Stake is the margin; PositionSize is stake multiplied by leverage.
// LiquidationPrice is the level at which the loss consumes the full margin.
type PricePosition struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index"`
	Symbol    string `gorm:"type:varchar(30);not null;index"`

	Direction Direction `gorm:"type:varchar(10);not null"`

	Stake            decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	Leverage         decimal.Decimal  `gorm:"type:numeric(10,2);not null;default:1"`
	EntryPrice       decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	PositionSize     decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	LiquidationPrice decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	TakeProfit       *decimal.Decimal `gorm:"type:numeric(20,10)"`
	StopLoss         *decimal.Decimal `gorm:"type:numeric(20,10)"`

	ExitPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Pnl       *decimal.Decimal `gorm:"column:pnl;type:numeric(30,10)"`
	Payout    *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Status     Status     `gorm:"type:varchar(20);not null;default:'pending';index"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (PricePosition) TableName() string {
	return "price_positions"
}

func (p *PricePosition) Kind() PositionKind { return KindPrice }

func (p *PricePosition) CurrentStatus() Status { return p.Status }
