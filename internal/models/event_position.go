package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventPosition is a share-based stake on one outcome of a discrete event
// market. Shares redeem for exactly one unit of account each on a win.
type EventPosition struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index"`
	MarketID  uint64 `gorm:"not null;index"`

	OutcomeIndex int       `gorm:"not null"`
	Direction    Direction `gorm:"type:varchar(10);not null"`

	Stake           decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	EntryPrice      decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	Shares          decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	PotentialPayout decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	Payout          *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Status     Status     `gorm:"type:varchar(20);not null;default:'pending';index"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (EventPosition) TableName() string {
	return "event_positions"
}

func (p *EventPosition) Kind() PositionKind { return KindEvent }

func (p *EventPosition) CurrentStatus() Status { return p.Status }
