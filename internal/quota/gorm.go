package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/router-for-me/MealPlanProxy/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var periodColumns = []clause.Column{{Name: "user_id"}, {Name: "month"}, {Name: "year"}}

// GormStore keeps usage records in the user_token_usage table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore constructs a GormStore. A nil now uses time.Now.
func NewGormStore(db *gorm.DB, now func() time.Time) *GormStore {
	if now == nil {
		now = time.Now
	}
	return &GormStore{db: db, now: now}
}

// GetCurrentUsage returns the current period record, inserting an empty one
// when the key is new. Concurrent first calls collapse onto the unique index.
func (s *GormStore) GetCurrentUsage(ctx context.Context, userID string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	if s == nil || s.db == nil {
		return Record{}, storageError("get current usage", errors.New("nil database"))
	}
	now := s.now().UTC()
	period := PeriodOf(now)

	seed := models.UsageRecord{
		UserID:     userID,
		Month:      period.Month,
		Year:       period.Year,
		TokensUsed: 0,
		LastReset:  now,
		CreatedAt:  now,
	}
	if errCreate := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: periodColumns, DoNothing: true}).
		Create(&seed).Error; errCreate != nil {
		return Record{}, storageError("get current usage", errCreate)
	}

	row, errLoad := s.load(ctx, userID, period)
	if errLoad != nil {
		return Record{}, storageError("get current usage", errLoad)
	}
	return recordFromModel(row), nil
}

// IncrementUsage adds amount to the current period in a single upsert.
func (s *GormStore) IncrementUsage(ctx context.Context, userID string, amount int64) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	if amount < 0 {
		return Record{}, ErrNegativeAmount
	}
	if s == nil || s.db == nil {
		return Record{}, storageError("increment usage", errors.New("nil database"))
	}
	now := s.now().UTC()
	period := PeriodOf(now)

	row := models.UsageRecord{
		UserID:      userID,
		Month:       period.Month,
		Year:        period.Year,
		TokensUsed:  amount,
		LastReset:   now,
		LastUpdated: &now,
		CreatedAt:   now,
	}
	if errUpsert := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: periodColumns,
			DoUpdates: clause.Assignments(map[string]any{
				"tokens_used":  gorm.Expr(models.UsageRecordTable+".tokens_used + ?", amount),
				"last_updated": now,
			}),
		}).
		Create(&row).Error; errUpsert != nil {
		return Record{}, storageError("increment usage", errUpsert)
	}

	updated, errLoad := s.load(ctx, userID, period)
	if errLoad != nil {
		return Record{}, storageError("increment usage", errLoad)
	}
	return recordFromModel(updated), nil
}

func (s *GormStore) load(ctx context.Context, userID string, period Period) (models.UsageRecord, error) {
	var row models.UsageRecord
	errTake := s.db.WithContext(ctx).
		Where("user_id = ? AND month = ? AND year = ?", userID, period.Month, period.Year).
		Take(&row).Error
	return row, errTake
}

func recordFromModel(row models.UsageRecord) Record {
	rec := Record{
		UserID:     row.UserID,
		Period:     Period{Month: row.Month, Year: row.Year},
		TokensUsed: row.TokensUsed,
		LastReset:  row.LastReset.UTC(),
	}
	if row.LastUpdated != nil {
		rec.LastUpdated = row.LastUpdated.UTC()
	}
	return rec
}
