package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"betengine/internal/models"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrMarketNotFound   = errors.New("market not found")
	ErrPositionNotFound = errors.New("position not found")
)

// OpenPositionCounts summarizes settleable rows per kind for the ops surface.
type OpenPositionCounts struct {
	Event       int64 `json:"event"`
	Price       int64 `json:"price"`
	Predictions int64 `json:"predictions"`
}

type ListLedgerEntriesParams struct {
	AccountID *uint64
	Reason    *string
	Limit     int
	Offset    int
}

// Repository owns all reads, writes, and locked reads used by the settlement
// engine. Methods with a Tx suffix must run inside InTx; the caller controls
// the commit boundary, so a placement or settlement spans the ledger
// adjustment and the position writes as one atomic unit.
//
// ForUpdate reads take an exclusive lock on a single row and hold it until
// the surrounding transaction commits. That is the entire locking discipline:
// one row, one logical operation.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Accounts and ledger.
	EnsureAccountTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error)
	GetAccountForUpdateTx(ctx context.Context, tx *gorm.DB, accountID uint64) (*models.Account, error)
	GetAccount(ctx context.Context, accountID uint64) (*models.Account, error)
	UpdateAccountBalanceTx(ctx context.Context, tx *gorm.DB, accountID uint64, balance decimal.Decimal) error
	InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, params ListLedgerEntriesParams) ([]models.LedgerEntry, error)

	// Markets.
	CreateMarket(ctx context.Context, market *models.Market) error
	GetMarket(ctx context.Context, id uint64) (*models.Market, error)
	GetMarketTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Market, error)
	ListMarketsWithOpenPositions(ctx context.Context, limit int) ([]models.Market, error)
	MarkMarketResolvedTx(ctx context.Context, tx *gorm.DB, id uint64, winningOutcome int, resolvedAt time.Time) error

	// Event positions.
	CreateEventPositionTx(ctx context.Context, tx *gorm.DB, pos *models.EventPosition) error
	GetEventPosition(ctx context.Context, id uint64) (*models.EventPosition, error)
	GetEventPositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.EventPosition, error)
	ListOpenEventPositionsByMarket(ctx context.Context, marketID uint64) ([]models.EventPosition, error)
	UpdateEventPositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error
	UpdateEventPositionPayoutTx(ctx context.Context, tx *gorm.DB, id uint64, payout decimal.Decimal) error

	// Price positions.
	CreatePricePositionTx(ctx context.Context, tx *gorm.DB, pos *models.PricePosition) error
	GetPricePosition(ctx context.Context, id uint64) (*models.PricePosition, error)
	GetPricePositionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePosition, error)
	ListOpenPricePositions(ctx context.Context, limit int) ([]models.PricePosition, error)
	ListOpenSymbols(ctx context.Context) ([]string, error)
	UpdatePricePositionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error
	UpdatePricePositionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, pnl, payout decimal.Decimal) error

	// Fixed-duration predictions.
	CreatePredictionTx(ctx context.Context, tx *gorm.DB, pred *models.PricePrediction) error
	GetPrediction(ctx context.Context, id uint64) (*models.PricePrediction, error)
	GetPredictionForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.PricePrediction, error)
	ListDuePredictions(ctx context.Context, before time.Time, limit int) ([]models.PricePrediction, error)
	UpdatePredictionStatusTx(ctx context.Context, tx *gorm.DB, id uint64, status models.Status, resolvedAt *time.Time) error
	UpdatePredictionSettlementTx(ctx context.Context, tx *gorm.DB, id uint64, exitPrice, payout decimal.Decimal) error

	// Maintenance and operations.
	PromoteStalePendingTx(ctx context.Context, tx *gorm.DB, olderThan time.Time) (int64, error)
	CountOpenPositions(ctx context.Context) (*OpenPositionCounts, error)
	GetSystemSetting(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
	UpsertFeedSourceStatus(ctx context.Context, item *models.FeedSourceStatus) error
	ListFeedSourceStatuses(ctx context.Context) ([]models.FeedSourceStatus, error)
}
