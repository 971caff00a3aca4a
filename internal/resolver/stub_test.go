package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"betengine/internal/config"
	"betengine/internal/ledger"
	"betengine/internal/models"
	"betengine/internal/outcomefeed"
	"betengine/internal/repository"
	"betengine/internal/service"
)

// stubRepo embeds the interface and implements only what the loops and the
// settler behind them touch. An unimplemented method panics, which is the
// point: it flags a loop reaching somewhere a test did not expect.
// Transactions pass through.
type stubRepo struct {
	repository.Repository

	accounts    map[uint64]decimal.Decimal
	entries     []models.LedgerEntry
	markets     map[uint64]models.Market
	eventPos    map[uint64]models.EventPosition
	pricePos    map[uint64]models.PricePosition
	predictions map[uint64]models.PricePrediction
	settings    map[string]models.SystemSetting

	// failPayoutFor makes UpdateEventPositionPayoutTx fail for these IDs.
	failPayoutFor map[uint64]bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:      map[uint64]decimal.Decimal{},
		markets:       map[uint64]models.Market{},
		eventPos:      map[uint64]models.EventPosition{},
		pricePos:      map[uint64]models.PricePosition{},
		predictions:   map[uint64]models.PricePrediction{},
		settings:      map[string]models.SystemSetting{},
		failPayoutFor: map[uint64]bool{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubRepo) EnsureAccountTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error) {
	balance, ok := s.accounts[accountID]
	if !ok {
		balance = decimal.Zero
		s.accounts[accountID] = balance
	}
	return &models.Account{ID: accountID, Balance: balance}, nil
}

func (s *stubRepo) UpdateAccountBalanceTx(ctx context.Context, tx *gorm.DB, accountID uint64, balance decimal.Decimal) error {
	s.accounts[accountID] = balance
	return nil
}

func (s *stubRepo) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *stubRepo) ListMarketsWithOpenPositions(ctx context.Context, limit int) ([]models.Market, error) {
	ids := make([]uint64, 0, len(s.markets))
	for id, m := range s.markets {
		if m.Status != models.MarketStatusOpen {
			continue
		}
		for _, p := range s.eventPos {
			if p.MarketID == id && p.Status.Settleable() {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]models.Market, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.markets[id])
	}
	return out, nil
}

func (s *stubRepo) MarkMarketResolvedTx(ctx context.Context, tx *gorm.DB, id uint64, winningOutcome int, resolvedAt time.Time) error {
	m, ok := s.markets[id]
	if !ok {
		return repository.ErrMarketNotFound
	}
	m.Status = models.MarketStatusResolved
	m.WinningOutcome = &winningOutcome
	m.ResolvedAt = &resolvedAt
	s.markets[id] = m
	return nil
}

func (s *stubRepo) ListOpenEventPositionsByMarket(ctx context.Context, marketID uint64) ([]models.EventPosition, error) {
	out := []models.EventPosition{}
	for _, p := range s.eventPos {
		if p.MarketID == marketID && p.Status.Settleable() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) GetEventPositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.EventPosition, error) {
	p, ok := s.eventPos[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) UpdateEventPositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	p, ok := s.eventPos[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Status = status
	p.ResolvedAt = resolvedAt
	s.eventPos[id] = p
	return nil
}

func (s *stubRepo) UpdateEventPositionPayoutTx(ctx context.Context, tx *gorm.DB, id uint64, payout decimal.Decimal) error {
	if s.failPayoutFor[id] {
		return fmt.Errorf("payout write refused for position %d", id)
	}
	p, ok := s.eventPos[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Payout = &payout
	s.eventPos[id] = p
	return nil
}

func (s *stubRepo) ListOpenPricePositions(ctx context.Context, limit int) ([]models.PricePosition, error) {
	out := []models.PricePosition{}
	for _, p := range s.pricePos {
		if p.Status.Settleable() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) GetPricePositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePosition, error) {
	p, ok := s.pricePos[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) UpdatePricePositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	p, ok := s.pricePos[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Status = status
	p.ResolvedAt = resolvedAt
	s.pricePos[id] = p
	return nil
}

func (s *stubRepo) UpdatePricePositionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, pnl, payout decimal.Decimal) error {
	p, ok := s.pricePos[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.ExitPrice = &exitPrice
	p.Pnl = &pnl
	p.Payout = &payout
	s.pricePos[id] = p
	return nil
}

func (s *stubRepo) ListDuePredictions(ctx context.Context, before time.Time, limit int) ([]models.PricePrediction, error) {
	out := []models.PricePrediction{}
	for _, p := range s.predictions {
		if p.Status.Settleable() && !p.ExpiresAt.After(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) GetPredictionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePrediction, error) {
	p, ok := s.predictions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) UpdatePredictionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	p, ok := s.predictions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Status = status
	p.ResolvedAt = resolvedAt
	s.predictions[id] = p
	return nil
}

func (s *stubRepo) UpdatePredictionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, payout decimal.Decimal) error {
	p, ok := s.predictions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.ExitPrice = &exitPrice
	p.Payout = &payout
	s.predictions[id] = p
	return nil
}

func (s *stubRepo) GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error) {
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.settings[item.Key] = *item
	return nil
}

// stubPrices serves fixed prices and records how often each symbol is asked
// for.
type stubPrices struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
	calls  map[string]int
}

func newStubPrices() *stubPrices {
	return &stubPrices{
		prices: map[string]decimal.Decimal{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (s *stubPrices) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.calls[symbol]++
	if err := s.errs[symbol]; err != nil {
		return decimal.Zero, err
	}
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

type stubOutcomes struct {
	resolutions map[string]outcomefeed.Resolution
	err         error
}

func (s *stubOutcomes) Resolution(ctx context.Context, ref string) (outcomefeed.Resolution, error) {
	if s.err != nil {
		return outcomefeed.Resolution{}, s.err
	}
	return s.resolutions[ref], nil
}

func newTestSettler(repo *stubRepo) *service.SettlementService {
	return &service.SettlementService{
		Repo:   repo,
		Ledger: &ledger.Ledger{Repo: repo},
		Limits: config.BettingLimits{
			MinStake:    decimal.NewFromInt(1),
			MaxStake:    decimal.NewFromInt(100000),
			MaxLeverage: decimal.NewFromInt(100),
		},
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
