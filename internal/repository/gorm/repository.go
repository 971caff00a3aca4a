package gormrepository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"betengine/internal/models"
	"betengine/internal/repository"
)

var settleableStatuses = []models.Status{models.StatusPending, models.StatusOpen}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Accounts and ledger ------------------------------------------------------

// EnsureAccountTx creates the account row at zero balance if it does not
// exist, then returns it locked FOR UPDATE. The lock covers exactly this row
// and is released when the surrounding transaction commits.
func (s *Store) EnsureAccountTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error) {
	if accountID == 0 {
		return nil, repository.ErrAccountNotFound
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&models.Account{ID: accountID, Balance: decimal.Zero}).Error
	if err != nil {
		return nil, err
	}
	return s.GetAccountForUpdateTx(ctx, tx, accountID)
}

func (s *Store) GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error) {
	var item models.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID uint64) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrAccountNotFound
	}
	var item models.Account
	err := s.db.WithContext(ctx).First(&item, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateAccountBalanceTx(ctx context.Context, tx *gorm.DB, accountID uint64, balance decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now().UTC()}).
		Error
}

func (s *Store) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (s *Store) ListLedgerEntries(ctx context.Context, params repository.ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if params.AccountID != nil && *params.AccountID > 0 {
		query = query.Where("account_id = ?", *params.AccountID)
	}
	if params.Reason != nil && strings.TrimSpace(*params.Reason) != "" {
		query = query.Where("reason = ?", strings.TrimSpace(*params.Reason))
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.LedgerEntry
	if err := query.Order("id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Markets ------------------------------------------------------------------

func (s *Store) CreateMarket(ctx context.Context, market *models.Market) error {
	if s == nil || s.db == nil || market == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(market).Error
}

func (s *Store) GetMarket(ctx context.Context, id uint64) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrMarketNotFound
	}
	return getMarket(s.db.WithContext(ctx), id)
}

func (s *Store) GetMarketTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Market, error) {
	return getMarket(tx.WithContext(ctx), id)
}

func getMarket(db *gorm.DB, id uint64) (*models.Market, error) {
	var item models.Market
	err := db.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListMarketsWithOpenPositions returns unresolved markets that still carry
// at least one settleable event position.
func (s *Store) ListMarketsWithOpenPositions(ctx context.Context, limit int) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sub := s.db.Model(&models.EventPosition{}).
		Select("market_id").
		Where("status IN ?", settleableStatuses)
	var items []models.Market
	err := s.db.WithContext(ctx).
		Model(&models.Market{}).
		Where("status = ?", models.MarketStatusOpen).
		Where("id IN (?)", sub).
		Order("id asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkMarketResolvedTx flips an open market to resolved. The status guard
// makes the transition effective at most once.
func (s *Store) MarkMarketResolvedTx(ctx context.Context, tx *gorm.DB, id uint64, winningOutcome int, resolvedAt time.Time) error {
	res := tx.WithContext(ctx).
		Model(&models.Market{}).
		Where("id = ?", id).
		Where("status = ?", models.MarketStatusOpen).
		Updates(map[string]any{
			"status":          models.MarketStatusResolved,
			"winning_outcome": winningOutcome,
			"resolved_at":     resolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrMarketNotFound
	}
	return nil
}

// --- Event positions ------------------------------------------------------------

func (s *Store) CreateEventPositionTx(ctx context.Context, tx *gorm.DB, pos *models.EventPosition) error {
	if pos == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(pos).Error
}

func (s *Store) GetEventPosition(ctx context.Context, id uint64) (*models.EventPosition, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrPositionNotFound
	}
	var item models.EventPosition
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetEventPositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.EventPosition, error) {
	var item models.EventPosition
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenEventPositionsByMarket(ctx context.Context, marketID uint64) ([]models.EventPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EventPosition
	err := s.db.WithContext(ctx).
		Model(&models.EventPosition{}).
		Where("market_id = ?", marketID).
		Where("status IN ?", settleableStatuses).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateEventPositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	return updateStatus(tx.WithContext(ctx), &models.EventPosition{}, id, status, resolvedAt)
}

func (s *Store) UpdateEventPositionPayoutTx(ctx context.Context, tx *gorm.DB, id uint64, payout decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&models.EventPosition{}).
		Where("id = ?", id).
		Update("payout", payout).
		Error
}

// --- Price positions ------------------------------------------------------------

func (s *Store) CreatePricePositionTx(ctx context.Context, tx *gorm.DB, pos *models.PricePosition) error {
	if pos == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(pos).Error
}

func (s *Store) GetPricePosition(ctx context.Context, id uint64) (*models.PricePosition, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrPositionNotFound
	}
	var item models.PricePosition
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPricePositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePosition, error) {
	var item models.PricePosition
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenPricePositions(ctx context.Context, limit int) ([]models.PricePosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PricePosition
	err := s.db.WithContext(ctx).
		Model(&models.PricePosition{}).
		Where("status IN ?", settleableStatuses).
		Order("id asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePricePositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	return updateStatus(tx.WithContext(ctx), &models.PricePosition{}, id, status, resolvedAt)
}

func (s *Store) UpdatePricePositionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, pnl, payout decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&models.PricePosition{}).
		Where("id = ?", id).
		Updates(map[string]any{"exit_price": exitPrice, "pnl": pnl, "payout": payout}).
		Error
}

// --- Fixed-duration predictions ---------------------------------------------------

func (s *Store) CreatePredictionTx(ctx context.Context, tx *gorm.DB, pred *models.PricePrediction) error {
	if pred == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(pred).Error
}

func (s *Store) GetPrediction(ctx context.Context, id uint64) (*models.PricePrediction, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrPositionNotFound
	}
	var item models.PricePrediction
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPredictionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePrediction, error) {
	var item models.PricePrediction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListOpenSymbols returns the distinct symbols that still have settleable
// price positions or predictions, used to scope the stream subscription.
func (s *Store) ListOpenSymbols(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var posSymbols []string
	err := s.db.WithContext(ctx).
		Model(&models.PricePosition{}).
		Where("status IN ?", settleableStatuses).
		Distinct().
		Pluck("symbol", &posSymbols).Error
	if err != nil {
		return nil, err
	}
	var predSymbols []string
	err = s.db.WithContext(ctx).
		Model(&models.PricePrediction{}).
		Where("status IN ?", settleableStatuses).
		Distinct().
		Pluck("symbol", &predSymbols).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(posSymbols)+len(predSymbols))
	out := make([]string, 0, len(posSymbols)+len(predSymbols))
	for _, sym := range append(posSymbols, predSymbols...) {
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListDuePredictions(ctx context.Context, before time.Time, limit int) ([]models.PricePrediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PricePrediction
	err := s.db.WithContext(ctx).
		Model(&models.PricePrediction{}).
		Where("status IN ?", settleableStatuses).
		Where("expires_at <= ?", before).
		Order("expires_at asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePredictionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error {
	return updateStatus(tx.WithContext(ctx), &models.PricePrediction{}, id, status, resolvedAt)
}

func (s *Store) UpdatePredictionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, payout decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&models.PricePrediction{}).
		Where("id = ?", id).
		Updates(map[string]any{"exit_price": exitPrice, "payout": payout}).
		Error
}

// --- Maintenance and operations ----------------------------------------------------

// PromoteStalePendingTx moves rows stuck in pending (a crash between the
// placement commit and the promote step) to open so the resolver loops and
// cancellation see them in their normal state.
func (s *Store) PromoteStalePendingTx(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error) {
	var promoted int64
	for _, model := range []any{&models.EventPosition{}, &models.PricePosition{}, &models.PricePrediction{}} {
		res := tx.WithContext(ctx).
			Model(model).
			Where("status = ?", models.StatusPending).
			Where("created_at < ?", olderThan).
			Update("status", models.StatusOpen)
		if res.Error != nil {
			return promoted, res.Error
		}
		promoted += res.RowsAffected
	}
	return promoted, nil
}

func (s *Store) CountOpenPositions(ctx context.Context) (*repository.OpenPositionCounts, error) {
	if s == nil || s.db == nil {
		return &repository.OpenPositionCounts{}, nil
	}
	counts := &repository.OpenPositionCounts{}
	type target struct {
		model any
		dst   *int64
	}
	for _, t := range []target{
		{&models.EventPosition{}, &counts.Event},
		{&models.PricePosition{}, &counts.Price},
		{&models.PricePrediction{}, &counts.Predictions},
	} {
		if err := s.db.WithContext(ctx).
			Model(t.model).
			Where("status IN ?", settleableStatuses).
			Count(t.dst).Error; err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (s *Store) GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertFeedSourceStatus(ctx context.Context, item *models.FeedSourceStatus) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_type",
			"endpoint",
			"status",
			"last_poll_at",
			"last_error",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListFeedSourceStatuses(ctx context.Context) ([]models.FeedSourceStatus, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.FeedSourceStatus
	if err := s.db.WithContext(ctx).
		Model(&models.FeedSourceStatus{}).
		Order("name asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ------------------------------------------------------------------

// updateStatus flips a position's lifecycle state. The settleable filter
// means a row that already reached a terminal state cannot be flipped again;
// the caller sees ErrPositionNotFound instead.
func updateStatus(db *gorm.DB, model any, id uint64, status models.Status, resolvedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if resolvedAt != nil {
		updates["resolved_at"] = *resolvedAt
	}
	res := db.Model(model).
		Where("id = ?", id).
		Where("status IN ?", settleableStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrPositionNotFound
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
