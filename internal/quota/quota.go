// Package quota tracks monthly token consumption per caller and decides
// whether a caller may spend more.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStorage matches every StorageError via errors.Is.
var ErrStorage = errors.New("quota: storage unavailable")

// ErrNegativeAmount is returned when an increment amount is below zero.
var ErrNegativeAmount = errors.New("quota: negative increment amount")

// ErrEmptyUser is returned when the user key is blank.
var ErrEmptyUser = errors.New("quota: empty user id")

// Period identifies one calendar month of accumulation.
type Period struct {
	Month int
	Year  int
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Record is the usage counter of one caller for one period.
type Record struct {
	UserID      string
	Period      Period
	TokensUsed  int64
	LastReset   time.Time
	LastUpdated time.Time // zero until the first increment
}

// Store persists usage records keyed by (user, month, year).
type Store interface {
	// GetCurrentUsage returns the record for the current period, creating
	// it with zero usage when absent.
	GetCurrentUsage(ctx context.Context, userID string) (Record, error)
	// IncrementUsage adds amount to the current period and returns the
	// updated record.
	IncrementUsage(ctx context.Context, userID string, amount int64) (Record, error)
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("quota store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
