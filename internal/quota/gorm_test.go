package quota

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/MealPlanProxy/internal/db"
	"github.com/router-for-me/MealPlanProxy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(db.SQLiteDSN(filepath.Join(t.TempDir(), "quota.db")))
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(conn))
	return conn
}

func TestGormStoreGetCurrentUsageCreatesOnce(t *testing.T) {
	conn := openTestDB(t)
	clock := &fakeClock{now: time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)}
	store := NewGormStore(conn, clock.Now)
	ctx := context.Background()

	first, err := store.GetCurrentUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.TokensUsed)
	assert.Equal(t, Period{Month: 3, Year: 2025}, first.Period)
	assert.True(t, first.LastReset.Equal(clock.Now()))
	assert.True(t, first.LastUpdated.IsZero())

	clock.Set(clock.Now().Add(time.Hour))
	second, err := store.GetCurrentUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, conn.Model(&models.UsageRecord{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormStoreIncrementUsage(t *testing.T) {
	conn := openTestDB(t)
	clock := &fakeClock{now: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)}
	store := NewGormStore(conn, clock.Now)
	ctx := context.Background()

	rec, err := store.IncrementUsage(ctx, "user-2", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), rec.TokensUsed)
	assert.True(t, rec.LastUpdated.Equal(clock.Now()))

	clock.Set(clock.Now().Add(5 * time.Minute))
	rec, err = store.IncrementUsage(ctx, "user-2", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(750), rec.TokensUsed)
	assert.True(t, rec.LastUpdated.Equal(clock.Now()))
	assert.True(t, rec.LastReset.Equal(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)))

	rec, err = store.IncrementUsage(ctx, "user-2", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(750), rec.TokensUsed)

	_, err = store.IncrementUsage(ctx, "user-2", -1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestGormStorePeriodRollover(t *testing.T) {
	conn := openTestDB(t)
	clock := &fakeClock{now: time.Date(2025, time.January, 31, 23, 59, 0, 0, time.UTC)}
	store := NewGormStore(conn, clock.Now)
	ctx := context.Background()

	_, err := store.IncrementUsage(ctx, "user-3", 29000)
	require.NoError(t, err)

	clock.Set(time.Date(2025, time.February, 1, 0, 1, 0, 0, time.UTC))
	rec, err := store.GetCurrentUsage(ctx, "user-3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokensUsed)
	assert.Equal(t, Period{Month: 2, Year: 2025}, rec.Period)

	var count int64
	require.NoError(t, conn.Model(&models.UsageRecord{}).Where("user_id = ?", "user-3").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGormStoreConcurrentAccess(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errGet := store.GetCurrentUsage(ctx, "user-4")
			assert.NoError(t, errGet)
		}()
	}
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errInc := store.IncrementUsage(ctx, "user-4", 40)
			assert.NoError(t, errInc)
		}()
	}
	wg.Wait()

	rec, err := store.GetCurrentUsage(ctx, "user-4")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.TokensUsed)

	var count int64
	require.NoError(t, conn.Model(&models.UsageRecord{}).Where("user_id = ?", "user-4").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormStoreWrapsStorageErrors(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, nil)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = store.GetCurrentUsage(context.Background(), "user-5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "get current usage", storageErr.Op)

	_, err = store.IncrementUsage(context.Background(), "user-5", 10)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestGormStoreRejectsEmptyUser(t *testing.T) {
	store := NewGormStore(openTestDB(t), nil)
	_, err := store.GetCurrentUsage(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyUser)
}
