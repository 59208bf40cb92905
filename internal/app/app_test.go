package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/MealPlanProxy/internal/config"
	"github.com/router-for-me/MealPlanProxy/internal/models"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
	"gorm.io/gorm"
)

type fixedProvider struct{}

func (fixedProvider) Complete(context.Context, upstream.ChatRequest) (upstream.Completion, error) {
	return upstream.Completion{
		Content:          "```json\n{\"description\":\"Bright and fresh.\"}\n```",
		Model:            "gpt-4o-mini",
		PromptTokens:     120,
		CompletionTokens: 80,
	}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "app.db")
	cfg.Upstream.APIKey = "sk-test"
	cfg.RateLimit.RequestsPerSecond = 0
	return cfg
}

func TestDatabaseDSN(t *testing.T) {
	if got := DatabaseDSN(config.DatabaseConfig{DSN: "postgres://u:p@h/db"}); got != "postgres://u:p@h/db" {
		t.Fatalf("expected dsn to win, got %q", got)
	}
	if got := DatabaseDSN(config.DatabaseConfig{SQLitePath: "data.db"}); !strings.HasPrefix(got, "file:data.db?") {
		t.Fatalf("unexpected sqlite dsn %q", got)
	}
}

func TestBuildServesMeteredAction(t *testing.T) {
	svc, err := Build(testConfig(t), WithProvider(fixedProvider{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	body := []byte(`{"action":"generateRecipeDescription","data":{"recipe":{"title":"Lemon Pasta"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/openai", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:4567"
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
	var payload struct {
		Description string `json:"description"`
		TokenUsage  struct {
			Used  int64 `json:"used"`
			Limit int64 `json:"limit"`
		} `json:"tokenUsage"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &payload); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if payload.Description != "Bright and fresh." || payload.TokenUsage.Used != 200 || payload.TokenUsage.Limit != config.DefaultMonthlyTokenLimit {
		t.Fatalf("unexpected payload %+v", payload)
	}

	svc.ledger.Wait()
	var events int64
	if errCount := svc.conn.Model(&models.UsageEvent{}).Count(&events).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	if events != 1 {
		t.Fatalf("expected one ledger event, got %d", events)
	}
	var record models.UsageRecord
	if errFind := svc.conn.First(&record).Error; errFind != nil {
		t.Fatalf("load usage record: %v", errFind)
	}
	if record.TokensUsed != 200 {
		t.Fatalf("expected 200 tokens stored, got %d", record.TokensUsed)
	}
}

func TestBuildAnswersPreflight(t *testing.T) {
	svc, err := Build(testConfig(t), WithProvider(fixedProvider{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/openai", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, x-client-info, apikey, content-type")
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestBuildExposesHealthAndMetrics(t *testing.T) {
	svc, err := Build(testConfig(t), WithProvider(fixedProvider{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.DefaultMetricsPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mealplan_quota_approaching_limit_total") {
		t.Fatalf("metrics output missing collectors")
	}
}

func TestBuildRejectsUnknownBackendAndClosesDatabase(t *testing.T) {
	var opened *gorm.DB
	original := openDB
	openDB = func(dsn string) (*gorm.DB, error) {
		conn, err := original(dsn)
		opened = conn
		return conn, err
	}
	t.Cleanup(func() { openDB = original })

	cfg := testConfig(t)
	cfg.Quota.Backend = "etcd"
	if _, err := Build(cfg, WithProvider(fixedProvider{})); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if opened == nil {
		t.Fatalf("expected Build to open the database")
	}
	sqlDB, errDB := opened.DB()
	if errDB != nil {
		t.Fatalf("sql handle: %v", errDB)
	}
	if errPing := sqlDB.Ping(); errPing == nil || !strings.Contains(errPing.Error(), "closed") {
		t.Fatalf("expected closed database after failed build, got %v", errPing)
	}
}

func TestBuildMemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quota.Backend = config.QuotaBackendMemory
	svc, err := Build(cfg, WithProvider(fixedProvider{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
