package models

import "time"

// UsageRecordTable is the table holding monthly token counters.
const UsageRecordTable = "user_token_usage"

// UsageRecord stores the tokens a caller consumed within one calendar month.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;uniqueIndex:idx_user_token_usage_period,priority:1"` // User ID or anonymous key.
	Month  int    `gorm:"not null;uniqueIndex:idx_user_token_usage_period,priority:2"`           // Calendar month, 1-12.
	Year   int    `gorm:"not null;uniqueIndex:idx_user_token_usage_period,priority:3"`           // Four digit year.

	TokensUsed int64 `gorm:"not null;default:0;check:chk_user_token_usage_tokens_used,tokens_used >= 0"` // Tokens consumed in the period.

	LastReset   time.Time  `gorm:"not null"` // When the period row was created.
	LastUpdated *time.Time // Latest increment timestamp.
	CreatedAt   time.Time  `gorm:"not null"` // Creation timestamp.
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return UsageRecordTable }
