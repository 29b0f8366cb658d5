package scopes

import (
	"time"

	"gorm.io/gorm"
)

func WithID(id string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithStatus(status any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", status)
	}
}

// RetryDue selects failed orders whose transient failure backoff has elapsed.
func RetryDue(now time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND failure_kind = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", "mint_failed", "transient", now)
	}
}
