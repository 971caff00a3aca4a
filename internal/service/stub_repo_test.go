package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"betengine/internal/config"
	"betengine/internal/ledger"
	"betengine/internal/models"
	"betengine/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Transactions are a pass-through; lookups return copies so a caller can only
// change stored state through the update methods, as with the real store.
type stubRepo struct {
	accounts    map[uint64]models.Account
	entries     []models.LedgerEntry
	markets     map[uint64]models.Market
	eventPos    map[uint64]models.EventPosition
	pricePos    map[uint64]models.PricePosition
	predictions map[uint64]models.PricePrediction
	settings    map[string]models.SystemSetting
	feedStatus  map[string]models.FeedSourceStatus
	nextID      uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:    map[uint64]models.Account{},
		markets:     map[uint64]models.Market{},
		eventPos:    map[uint64]models.EventPosition{},
		pricePos:    map[uint64]models.PricePosition{},
		predictions: map[uint64]models.PricePrediction{},
		settings:    map[string]models.SystemSetting{},
		feedStatus:  map[string]models.FeedSourceStatus{},
	}
}

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

// InTx snapshots state and restores it when fn fails, matching the real
// store's rollback.
func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *stubRepo) snapshot() *stubRepo {
	snap := newStubRepo()
	snap.nextID = s.nextID
	snap.entries = append([]models.LedgerEntry(nil), s.entries...)
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.markets {
		snap.markets[k] = v
	}
	for k, v := range s.eventPos {
		snap.eventPos[k] = v
	}
	for k, v := range s.pricePos {
		snap.pricePos[k] = v
	}
	for k, v := range s.predictions {
		snap.predictions[k] = v
	}
	for k, v := range s.settings {
		snap.settings[k] = v
	}
	for k, v := range s.feedStatus {
		snap.feedStatus[k] = v
	}
	return snap
}

func (s *stubRepo) restore(snap *stubRepo) {
	s.nextID = snap.nextID
	s.entries = snap.entries
	s.accounts = snap.accounts
	s.markets = snap.markets
	s.eventPos = snap.eventPos
	s.pricePos = snap.pricePos
	s.predictions = snap.predictions
	s.settings = snap.settings
	s.feedStatus = snap.feedStatus
}

func (s *stubRepo) EnsureAccountTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error) {
	acct, ok := s.accounts[accountID]
	if !ok {
		acct = models.Account{ID: accountID, Balance: decimal.Zero}
		s.accounts[accountID] = acct
	}
	out := acct
	return &out, nil
}

func (s *stubRepo) GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error) {
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	out := acct
	return &out, nil
}

func (s *stubRepo) GetAccount(ctx context.Context, accountID uint64) (*models.Account, error) {
	return s.GetAccountForUpdateTx(ctx, nil, accountID)
}

func (s *stubRepo) UpdateAccountBalanceTx(ctx context.Context, tx *gorm.DB, accountID uint64, balance decimal.Decimal) error {
	acct, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	acct.Balance = balance
	s.accounts[accountID] = acct
	return nil
}

func (s *stubRepo) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	entry.ID = s.id()
	entry.CreatedAt = time.Now().UTC()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *stubRepo) ListLedgerEntries(ctx context.Context, params repository.ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	out := make([]models.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if params.AccountID != nil && e.AccountID != *params.AccountID {
			continue
		}
		if params.Reason != nil && e.Reason != *params.Reason {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *stubRepo) CreateMarket(ctx context.Context, market *models.Market) error {
	if market.ID == 0 {
		market.ID = s.id()
	}
	s.markets[market.ID] = *market
	return nil
}

func (s *stubRepo) GetMarket(ctx context.Context, id uint64) (*models.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, repository.ErrMarketNotFound
	}
	out := m
	return &out, nil
}

func (s *stubRepo) GetMarketTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Market, error) {
	return s.GetMarket(ctx, id)
}

func (s *stubRepo) ListMarketsWithOpenPositions(ctx context.Context, limit int) ([]models.Market, error) {
	ids := make([]uint64, 0, len(s.markets))
	for id, m := range s.markets {
		if m.Status != models.MarketStatusOpen {
			continue
		}
		open := false
		for _, p := range s.eventPos {
			if p.MarketID == id && p.Status.Settleable() {
				open = true
				break
			}
		}
		if open {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]models.Market, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.markets[id])
		if limit > 0 && len(out) >= limit {
			break
		}
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

func (s *stubRepo) CreateEventPositionTx(ctx context.Context, tx *gorm.DB, pos *models.EventPosition) error {
	pos.ID = s.id()
	pos.CreatedAt = time.Now().UTC()
	s.eventPos[pos.ID] = *pos
	return nil
}

func (s *stubRepo) GetEventPosition(ctx context.Context, id uint64) (*models.EventPosition, error) {
	p, ok := s.eventPos[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) GetEventPositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.EventPosition, error) {
	return s.GetEventPosition(ctx, id)
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
	p, ok := s.eventPos[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Payout = &payout
	s.eventPos[id] = p
	return nil
}

func (s *stubRepo) CreatePricePositionTx(ctx context.Context, tx *gorm.DB, pos *models.PricePosition) error {
	pos.ID = s.id()
	pos.CreatedAt = time.Now().UTC()
	s.pricePos[pos.ID] = *pos
	return nil
}

func (s *stubRepo) GetPricePosition(ctx context.Context, id uint64) (*models.PricePosition, error) {
	p, ok := s.pricePos[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) GetPricePositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePosition, error) {
	return s.GetPricePosition(ctx, id)
}

func (s *stubRepo) ListOpenPricePositions(ctx context.Context, limit int) ([]models.PricePosition, error) {
	out := []models.PricePosition{}
	for _, p := range s.pricePos {
		if p.Status.Settleable() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) ListOpenSymbols(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, p := range s.pricePos {
		if p.Status.Settleable() {
			seen[p.Symbol] = true
		}
	}
	for _, p := range s.predictions {
		if p.Status.Settleable() {
			seen[p.Symbol] = true
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
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

func (s *stubRepo) CreatePredictionTx(ctx context.Context, tx *gorm.DB, pred *models.PricePrediction) error {
	pred.ID = s.id()
	s.predictions[pred.ID] = *pred
	return nil
}

func (s *stubRepo) GetPrediction(ctx context.Context, id uint64) (*models.PricePrediction, error) {
	p, ok := s.predictions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	out := p
	return &out, nil
}

func (s *stubRepo) GetPredictionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePrediction, error) {
	return s.GetPrediction(ctx, id)
}

func (s *stubRepo) ListDuePredictions(ctx context.Context, before time.Time, limit int) ([]models.PricePrediction, error) {
	out := []models.PricePrediction{}
	for _, p := range s.predictions {
		if p.Status.Settleable() && !p.ExpiresAt.After(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
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

func (s *stubRepo) PromoteStalePendingTx(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error) {
	var promoted int64
	for id, p := range s.eventPos {
		if p.Status == models.StatusPending && p.CreatedAt.Before(olderThan) {
			p.Status = models.StatusOpen
			s.eventPos[id] = p
			promoted++
		}
	}
	for id, p := range s.pricePos {
		if p.Status == models.StatusPending && p.CreatedAt.Before(olderThan) {
			p.Status = models.StatusOpen
			s.pricePos[id] = p
			promoted++
		}
	}
	for id, p := range s.predictions {
		if p.Status == models.StatusPending && p.CreatedAt.Before(olderThan) {
			p.Status = models.StatusOpen
			s.predictions[id] = p
			promoted++
		}
	}
	return promoted, nil
}

func (s *stubRepo) CountOpenPositions(ctx context.Context) (*repository.OpenPositionCounts, error) {
	counts := &repository.OpenPositionCounts{}
	for _, p := range s.eventPos {
		if p.Status.Settleable() {
			counts.Event++
		}
	}
	for _, p := range s.pricePos {
		if p.Status.Settleable() {
			counts.Price++
		}
	}
	for _, p := range s.predictions {
		if p.Status.Settleable() {
			counts.Predictions++
		}
	}
	return counts, nil
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
	if existing, ok := s.settings[item.Key]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = s.id()
	}
	s.settings[item.Key] = *item
	return nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	keys := make([]string, 0, len(s.settings))
	for k := range s.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.SystemSetting, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.settings[k])
	}
	return out, nil
}

func (s *stubRepo) UpsertFeedSourceStatus(ctx context.Context, item *models.FeedSourceStatus) error {
	if existing, ok := s.feedStatus[item.Name]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = s.id()
	}
	s.feedStatus[item.Name] = *item
	return nil
}

func (s *stubRepo) ListFeedSourceStatuses(ctx context.Context) ([]models.FeedSourceStatus, error) {
	names := make([]string, 0, len(s.feedStatus))
	for n := range s.feedStatus {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]models.FeedSourceStatus, 0, len(names))
	for _, n := range names {
		out = append(out, s.feedStatus[n])
	}
	return out, nil
}

func newTestService(repo *stubRepo) *SettlementService {
	return &SettlementService{
		Repo:   repo,
		Ledger: &ledger.Ledger{Repo: repo},
		Limits: config.BettingLimits{
			MinStake:    decimal.NewFromInt(1),
			MaxStake:    decimal.NewFromInt(100000),
			MaxLeverage: decimal.NewFromInt(100),
		},
	}
}

func fund(repo *stubRepo, accountID uint64, balance string) {
	d, _ := decimal.NewFromString(balance)
	repo.accounts[accountID] = models.Account{ID: accountID, Balance: d}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openMarket(repo *stubRepo, id uint64, names, prices string) {
	repo.markets[id] = models.Market{
		ID:            id,
		Question:      "test market",
		OutcomeRef:    "test-ref",
		Outcomes:      datatypes.JSON(names),
		OutcomePrices: datatypes.JSON(prices),
		Status:        models.MarketStatusOpen,
	}
}
