package models

import (
	"time"
)

// FeedSourceStatus is a persisted health snapshot for an external data feed
// (reference price source or outcome source).
type FeedSourceStatus struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement"`
	Name       string     `gorm:"type:varchar(50);uniqueIndex;not null"`
	SourceType string     `gorm:"type:varchar(30);not null"`
	Endpoint   string     `gorm:"type:varchar(500)"`
	Status     string     `gorm:"type:varchar(20);default:'unknown'"`
	LastPollAt *time.Time `gorm:"type:timestamptz"`
	LastError  *string    `gorm:"type:text"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (FeedSourceStatus) TableName() string {
	return "feed_source_status"
}
