package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageEvent records one metered upstream call.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:varchar(36);not null;uniqueIndex"` // Request UUID.
	UserID    string `gorm:"type:text;not null;index"`              // User ID or anonymous key.
	Anonymous bool   `gorm:"not null;default:false"`                // Caller had no verified identity.
	Action    string `gorm:"type:varchar(64);not null;index"`       // Action name.
	Model     string `gorm:"type:varchar(128);not null"`            // Upstream model.

	PromptTokens     int64 `gorm:"not null;default:0"` // Prompt tokens.
	CompletionTokens int64 `gorm:"not null;default:0"` // Completion tokens.
	TotalTokens      int64 `gorm:"not null;default:0"` // Tokens charged to the period.

	Degraded bool           `gorm:"not null;default:false"` // Response text was not a usable JSON object.
	Metadata datatypes.JSON `gorm:"type:jsonb"`             // Parse mode, latency and similar details.

	RequestedAt time.Time `gorm:"not null;index"` // When the request arrived.
	CreatedAt   time.Time `gorm:"not null"`       // Creation timestamp.
}

// TableName returns the database table name for UsageEvent.
func (UsageEvent) TableName() string { return "usage_events" }
