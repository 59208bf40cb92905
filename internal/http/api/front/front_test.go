package front

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/MealPlanProxy/internal/config"
	"github.com/router-for-me/MealPlanProxy/internal/identity"
	"github.com/router-for-me/MealPlanProxy/internal/metering"
	"github.com/router-for-me/MealPlanProxy/internal/metrics"
	"github.com/router-for-me/MealPlanProxy/internal/quota"
	"github.com/router-for-me/MealPlanProxy/internal/ratelimit"
	"github.com/router-for-me/MealPlanProxy/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "front-test-secret-front-test-secret-0001"

type stubProvider struct {
	calls   atomic.Int32
	content string
	err     error
}

func (s *stubProvider) Complete(context.Context, upstream.ChatRequest) (upstream.Completion, error) {
	s.calls.Add(1)
	if s.err != nil {
		return upstream.Completion{}, s.err
	}
	return upstream.Completion{Content: s.content, PromptTokens: 300, CompletionTokens: 200}, nil
}

type testServer struct {
	engine   *gin.Engine
	store    *quota.MemoryStore
	provider *stubProvider
}

func newTestServer(t *testing.T, requireUser bool, rps int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := quota.NewMemoryStore(nil)
	provider := &stubProvider{content: `{"description":"A bright lemony pasta.","tags":["pasta"]}`}
	proxy, err := metering.New(metering.Config{
		MonthlyTokenLimit: 30000,
		WarningThreshold:  0.8,
		Model:             "gpt-4o-mini",
		Temperature:       0.7,
		UpstreamTimeout:   time.Second,
	}, store, provider)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	RegisterFrontRoutes(engine, Deps{
		Proxy:    proxy,
		Resolver: identity.NewResolver(config.JWTConfig{Secret: testSecret}, requireUser),
		Limiter:  ratelimit.NewManager(ratelimit.SettingsConfig{Limit: rps}, nil, nil),
		Metrics:  metrics.New(),
	})
	return &testServer{engine: engine, store: store, provider: provider}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.23:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func userToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

const describeBody = `{"action":"generateRecipeDescription","data":{"recipe":{"title":"Lemon Pasta"}}}`

func TestInvokeReturnsResultWithTokenUsage(t *testing.T) {
	s := newTestServer(t, false, 0)

	rec, body := s.do(t, http.MethodPost, "/functions/v1/openai", describeBody, userToken(t, "user-42"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "A bright lemony pasta.", body["description"])
	usage := body["tokenUsage"].(map[string]any)
	assert.EqualValues(t, 500, usage["used"])
	assert.EqualValues(t, 30000, usage["limit"])
	assert.EqualValues(t, 2, usage["percentUsed"])
	assert.Equal(t, false, usage["isApproachingLimit"])
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	rec2, _ := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, userToken(t, "user-42"))
	require.Equal(t, http.StatusOK, rec2.Code)
	got, err := s.store.GetCurrentUsage(context.Background(), "user-42")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, got.TokensUsed)
}

func TestInvokeAnonymousUsesHashedKey(t *testing.T) {
	s := newTestServer(t, false, 0)

	rec, _ := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := s.store.GetCurrentUsage(context.Background(), identity.AnonymousKey("198.51.100.23"))
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.TokensUsed)
}

func TestInvokeRequireUser(t *testing.T) {
	s := newTestServer(t, true, 0)

	rec, body := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization header", body["error"])

	rec, _ = s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.EqualValues(t, 0, s.provider.calls.Load())
}

func TestInvokeQuotaExceeded(t *testing.T) {
	s := newTestServer(t, false, 0)
	s.store.Set("user-full", 30000)

	rec, body := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, userToken(t, "user-full"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, body["error"], "Monthly AI usage limit")
	assert.Equal(t, metrics.OutcomeQuotaExceeded, body["code"])
	usage := body["tokenUsage"].(map[string]any)
	assert.EqualValues(t, 100, usage["percentUsed"])
	assert.EqualValues(t, 0, s.provider.calls.Load())
}

func TestInvokeUnsupportedAction(t *testing.T) {
	s := newTestServer(t, false, 0)

	rec, body := s.do(t, http.MethodPost, "/v1/ai-proxy", `{"action":"doSomethingElse","data":{}}`, userToken(t, "user-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported action: doSomethingElse", body["error"])
	assert.Equal(t, metrics.OutcomeUnsupportedAction, body["code"])

	rec, body = s.do(t, http.MethodPost, "/v1/ai-proxy", `{"action":"personalizeRecipe","data":{}}`, userToken(t, "user-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, metrics.OutcomeInvalidPayload, body["code"])
	assert.EqualValues(t, 0, s.provider.calls.Load())
}

func TestInvokeUpstreamBillingError(t *testing.T) {
	s := newTestServer(t, false, 0)
	s.provider.err = upstream.NewError(429, "You exceeded your current quota", nil)

	rec, body := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, userToken(t, "user-1"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, metrics.OutcomeUpstreamBilling, body["code"])
	assert.Contains(t, body["error"], "billing")
}

func TestUsageEndpoint(t *testing.T) {
	s := newTestServer(t, false, 0)
	s.store.Set("user-7", 24000)

	rec, body := s.do(t, http.MethodGet, "/v1/usage", "", userToken(t, "user-7"))
	require.Equal(t, http.StatusOK, rec.Code)
	usage := body["tokenUsage"].(map[string]any)
	assert.EqualValues(t, 24000, usage["used"])
	assert.Equal(t, true, usage["isApproachingLimit"])
	assert.EqualValues(t, 80, usage["percentUsed"])
	assert.Equal(t, false, body["anonymous"])
}

func TestRateLimitHeaders(t *testing.T) {
	s := newTestServer(t, false, 1)
	token := userToken(t, "user-burst")

	rec, _ := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec, body := s.do(t, http.MethodPost, "/v1/ai-proxy", describeBody, token)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, metrics.OutcomeRateLimited, body["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 1, s.provider.calls.Load())
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, false, 0)
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set(HeaderRequestID, "3f2b8f8e-8a0c-4f7e-9b1a-1c2d3e4f5a6b")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, "3f2b8f8e-8a0c-4f7e-9b1a-1c2d3e4f5a6b", rec.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set(HeaderRequestID, "bad id")
	rec = httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.NotEqual(t, "bad id", rec.Header().Get(HeaderRequestID))
}
