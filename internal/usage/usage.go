// Package usage keeps the per-request usage ledger next to the monthly quota counters.
package usage

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/MealPlanProxy/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultWriteTimeout bounds one detached ledger write.
const DefaultWriteTimeout = 5 * time.Second

// Event describes one successful metered call.
type Event struct {
	RequestID        string
	UserID           string
	Anonymous        bool
	Action           string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Degraded         bool
	ParseMode        string
	Latency          time.Duration
	RequestedAt      time.Time
}

// GormLedger persists events as usage_events rows.
type GormLedger struct {
	db      *gorm.DB
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGormLedger constructs a GormLedger backed by GORM.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, timeout: DefaultWriteTimeout}
}

// Record writes ev in the background. The caller's context is not used for
// the write so a finished request does not cancel its own bookkeeping.
func (l *GormLedger) Record(_ context.Context, ev Event) {
	if l == nil || l.db == nil {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		dbCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if errWrite := l.Write(dbCtx, ev); errWrite != nil {
			log.WithError(errWrite).WithFields(log.Fields{
				"request_id": ev.RequestID,
				"action":     ev.Action,
			}).Warn("usage ledger: failed to persist usage event")
		}
	}()
}

// Write persists ev synchronously.
func (l *GormLedger) Write(ctx context.Context, ev Event) error {
	row := eventRow(ev)
	return l.db.WithContext(ctx).Create(&row).Error
}

// Wait blocks until every pending background write has finished.
func (l *GormLedger) Wait() {
	if l != nil {
		l.wg.Wait()
	}
}

func eventRow(ev Event) models.UsageEvent {
	requestID := strings.TrimSpace(ev.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	total := ev.TotalTokens
	if total == 0 {
		total = ev.PromptTokens + ev.CompletionTokens
	}
	meta, errMarshal := json.Marshal(map[string]any{
		"parse_mode": ev.ParseMode,
		"latency_ms": ev.Latency.Milliseconds(),
	})
	if errMarshal != nil {
		meta = []byte("{}")
	}
	return models.UsageEvent{
		RequestID:        requestID,
		UserID:           ev.UserID,
		Anonymous:        ev.Anonymous,
		Action:           ev.Action,
		Model:            strings.TrimSpace(ev.Model),
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		TotalTokens:      total,
		Degraded:         ev.Degraded,
		Metadata:         datatypes.JSON(meta),
		RequestedAt:      normalizeTime(ev.RequestedAt),
		CreatedAt:        time.Now().UTC(),
	}
}

// normalizeTime returns a UTC timestamp, defaulting to now if zero.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Nop discards events.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Event) {}
