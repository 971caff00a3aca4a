package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MarketStatusOpen     = "open"
	MarketStatusResolved = "resolved"
)

// Market is a discrete-outcome event market. Outcomes holds the outcome
// names and OutcomePrices the posted reference price per outcome, both as
// index-aligned JSON arrays. OutcomeRef identifies the market at the
// external outcome source.
type Market struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	Slug       *string `gorm:"type:text;uniqueIndex"`
	Question   string  `gorm:"type:text;not null"`
	OutcomeRef string  `gorm:"type:varchar(120);not null;index"`

	Outcomes      datatypes.JSON `gorm:"type:jsonb;not null"`
	OutcomePrices datatypes.JSON `gorm:"type:jsonb;not null"`

	Status         string `gorm:"type:varchar(20);not null;default:'open';index"`
	WinningOutcome *int   `gorm:""`

	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	ResolvedAt *time.Time `gorm:"type:timestamptz"`
}

func (Market) TableName() string {
	return "markets"
}

// OutcomeNames decodes the outcome name list.
func (m *Market) OutcomeNames() ([]string, error) {
	var names []string
	if err := json.Unmarshal(m.Outcomes, &names); err != nil {
		return nil, fmt.Errorf("decode market %d outcomes: %w", m.ID, err)
	}
	return names, nil
}

// PriceForOutcome returns the posted reference price for one outcome index.
// Prices are stored as decimal strings to avoid float loss.
func (m *Market) PriceForOutcome(idx int) (decimal.Decimal, error) {
	var prices []string
	if err := json.Unmarshal(m.OutcomePrices, &prices); err != nil {
		return decimal.Zero, fmt.Errorf("decode market %d outcome prices: %w", m.ID, err)
	}
	if idx < 0 || idx >= len(prices) {
		return decimal.Zero, fmt.Errorf("market %d has no outcome %d", m.ID, idx)
	}
	p, err := decimal.NewFromString(prices[idx])
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse market %d outcome %d price: %w", m.ID, idx, err)
	}
	return p, nil
}
