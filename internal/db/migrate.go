package db

import (
	"betengine/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Account{},
		&models.LedgerEntry{},
		&models.Market{},
		&models.EventPosition{},
		&models.PricePosition{},
		&models.PricePrediction{},
		&models.SystemSetting{},
		&models.FeedSourceStatus{},
	)
}
