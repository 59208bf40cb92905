package quota

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryKey struct {
	userID string
	period Period
}

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[memoryKey]*Record
}

// NewMemoryStore constructs a MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, records: make(map[memoryKey]*Record)}
}

// GetCurrentUsage returns the current period record, creating it if absent.
func (s *MemoryStore) GetCurrentUsage(_ context.Context, userID string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.current(userID), nil
}

// IncrementUsage adds amount to the current period.
func (s *MemoryStore) IncrementUsage(_ context.Context, userID string, amount int64) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, ErrEmptyUser
	}
	if amount < 0 {
		return Record{}, ErrNegativeAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.current(userID)
	rec.TokensUsed += amount
	rec.LastUpdated = s.now().UTC()
	return *rec, nil
}

// Set overwrites the current period usage for userID.
func (s *MemoryStore) Set(userID string, used int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current(strings.TrimSpace(userID)).TokensUsed = used
}

// current must be called with s.mu held.
func (s *MemoryStore) current(userID string) *Record {
	now := s.now().UTC()
	key := memoryKey{userID: userID, period: PeriodOf(now)}
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{UserID: userID, Period: key.period, LastReset: now}
		s.records[key] = rec
	}
	return rec
}
