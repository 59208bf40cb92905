package db

import (
	"fmt"

	"github.com/router-for-me/MealPlanProxy/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.UsageRecord{},
		&models.UsageEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	if DialectName(conn) == DialectPostgres {
		return migratePostgres(conn)
	}
	return nil
}

// migratePostgres adds indexes AutoMigrate cannot express.
func migratePostgres(conn *gorm.DB) error {
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_usage_events_parse_mode
		ON usage_events ((metadata->>'parse_mode'))
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create usage_events parse_mode index: %w", errIndex)
	}
	return nil
}
