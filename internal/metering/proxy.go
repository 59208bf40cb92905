// Package metering enforces monthly token quotas around upstream AI calls.
package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/MealPlanProxy/internal/actions"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
	"github.com/router-for-me/MealPlanProxy/internal/usage"
	log "github.com/sirupsen/logrus"
)

// postUpdateTimeout bounds the usage increment after a completed call.
const postUpdateTimeout = 5 * time.Second

// Config holds the fixed metering parameters.
type Config struct {
	MonthlyTokenLimit int64
	WarningThreshold  float64
	Model             string
	Temperature       float64
	UpstreamTimeout   time.Duration
}

// Ledger receives one event per successful metered call.
type Ledger interface {
	Record(ctx context.Context, ev usage.Event)
}

// Proxy meters one action call at a time. It holds no per-request state.
type Proxy struct {
	cfg      Config
	store    quota.Store
	provider upstream.Provider
	ledger   Ledger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customizes a Proxy.
type Option func(*Proxy)

// WithLedger sets the usage ledger.
func WithLedger(ledger Ledger) Option {
	return func(p *Proxy) {
		if ledger != nil {
			p.ledger = ledger
		}
	}
}

// WithMetrics sets the collectors updated by Handle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs a Proxy.
func New(cfg Config, store quota.Store, provider upstream.Provider, opts ...Option) (*Proxy, error) {
	if store == nil {
		return nil, errors.New("metering: nil quota store")
	}
	if provider == nil {
		return nil, errors.New("metering: nil upstream provider")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("metering: model is required")
	}
	if cfg.UpstreamTimeout <= 0 {
		return nil, errors.New("metering: upstream timeout must be positive")
	}
	p := &Proxy{cfg: cfg, store: store, provider: provider, ledger: usage.Nop{}, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Response is a successful metered call.
type Response struct {
	RequestID  string
	Result     actions.Result
	Consumed   int64
	TokenUsage quota.Report
	// UsageRecorded is false when the post-call increment failed.
	UsageRecorded bool
}

// Body returns the result fields merged with tokenUsage.
func (r *Response) Body() (map[string]any, error) {
	fields, err := r.Result.Fields()
	if err != nil {
		return nil, fmt.Errorf("metering: encode result: %w", err)
	}
	fields["tokenUsage"] = r.TokenUsage
	return fields, nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Handle reuses for the ledger row.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// Usage returns the caller's report for the current period.
func (p *Proxy) Usage(ctx context.Context, caller identity.Caller) (quota.Report, error) {
	if strings.TrimSpace(caller.ID) == "" {
		return quota.Report{}, ErrUnauthorized
	}
	rec, errGet := p.store.GetCurrentUsage(ctx, caller.ID)
	if errGet != nil {
		p.metrics.StorageFailure("precheck")
		return quota.Report{}, errGet
	}
	return p.report(rec), nil
}

// Handle runs req for caller: pre-check, one upstream call, parse, and
// post-update. A failed pre-check read denies the request; a failed
// post-update is logged and the result is still returned.
func (p *Proxy) Handle(ctx context.Context, caller identity.Caller, req actions.Request) (*Response, error) {
	if strings.TrimSpace(caller.ID) == "" {
		return nil, ErrUnauthorized
	}
	if req == nil {
		return nil, fmt.Errorf("%w: missing action", actions.ErrInvalidPayload)
	}
	action := string(req.Action())
	requestedAt := p.now().UTC()
	id := requestID(ctx)
	entry := log.WithFields(log.Fields{"request_id": id, "action": action, "anonymous": caller.Anonymous})

	rec, errGet := p.store.GetCurrentUsage(ctx, caller.ID)
	if errGet != nil {
		p.metrics.StorageFailure("precheck")
		entry.WithError(errGet).Error("metering: quota pre-check failed, denying request")
		return nil, errGet
	}
	if quota.IsExceeded(rec, p.cfg.MonthlyTokenLimit) {
		return nil, &QuotaExceededError{Report: p.report(rec)}
	}

	// A dispatched call and its charge outlive a disconnected caller.
	base := context.WithoutCancel(ctx)
	prompt := req.Prompt()
	callCtx, cancel := context.WithTimeout(base, p.cfg.UpstreamTimeout)
	started := time.Now()
	completion, errCall := p.provider.Complete(callCtx, upstream.ChatRequest{
		System:      prompt.System,
		User:        prompt.User,
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
	})
	cancel()
	elapsed := time.Since(started)
	p.metrics.ObserveUpstream(action, elapsed)
	if errCall != nil {
		var upstreamErr *upstream.Error
		if !errors.As(errCall, &upstreamErr) {
			errCall = upstream.NewError(0, "", errCall)
		}
		entry.WithError(errCall).Warn("metering: upstream call failed")
		return nil, errCall
	}

	result := actions.Interpret(req, completion.Content)
	if result.Degraded {
		entry.Debug("metering: upstream answer was not a usable JSON object")
	}
	consumed := completion.Consumed()

	resp := &Response{RequestID: id, Result: result, Consumed: consumed, UsageRecorded: true}
	updateCtx, cancelUpdate := context.WithTimeout(base, postUpdateTimeout)
	updated, errInc := p.store.IncrementUsage(updateCtx, caller.ID, consumed)
	cancelUpdate()
	if errInc != nil {
		p.metrics.StorageFailure("update")
		entry.WithError(errInc).WithField("tokens", consumed).Error("metering: failed to record token usage")
		updated = rec
		updated.TokensUsed += consumed
		resp.UsageRecorded = false
	}
	resp.TokenUsage = p.report(updated)
	p.metrics.AddTokens(action, consumed)
	if resp.TokenUsage.IsApproachingLimit {
		p.metrics.ApproachingLimit()
	}

	model := completion.Model
	if strings.TrimSpace(model) == "" {
		model = p.cfg.Model
	}
	p.ledger.Record(base, usage.Event{
		RequestID:        id,
		UserID:           caller.ID,
		Anonymous:        caller.Anonymous,
		Action:           action,
		Model:            model,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		TotalTokens:      consumed,
		Degraded:         result.Degraded,
		ParseMode:        string(result.Mode),
		Latency:          elapsed,
		RequestedAt:      requestedAt,
	})
	return resp, nil
}

func (p *Proxy) report(rec quota.Record) quota.Report {
	return quota.ToReport(rec, p.cfg.MonthlyTokenLimit, p.cfg.WarningThreshold)
}
