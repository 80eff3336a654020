package web_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/tyemirov/gatekit/internal/authkit"
	"github.com/tyemirov/gatekit/internal/credstore"
	"github.com/tyemirov/gatekit/internal/ratelimit"
	"github.com/tyemirov/gatekit/internal/web"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type testHarness struct {
	router  *gin.Engine
	metrics *authkit.CounterMetrics
	clock   *controllableClock
}

func newHarness(t *testing.T, planLimits map[ratelimit.Plan]ratelimit.Limits) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &controllableClock{current: time.Unix(1700000000, 0).UTC()}
	tokens, tokensErr := authkit.NewTokenService(authkit.TokenConfig{
		SigningKey: []byte("web-test-signing-key"),
		Issuer:     "gatekit-test",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Clock:      clock,
	})
	if tokensErr != nil {
		t.Fatalf("unexpected token service error: %v", tokensErr)
	}

	accounts := credstore.NewService(credstore.NewMemoryUserStore(), clock, 4)
	metrics := authkit.NewCounterMetrics()
	logger := zaptest.NewLogger(t)

	if planLimits == nil {
		planLimits = ratelimit.DefaultPlanLimits()
	}
	registry := ratelimit.NewRegistry(clock, planLimits)

	router := gin.New()
	apiGroup := router.Group("/api/v1")
	apiGroup.Use(registry.Middleware(logger, metrics))
	apiGroup.GET("/health", web.HandleHealth())
	web.MountAuthRoutes(apiGroup, accounts, tokens, logger, metrics)

	protected := apiGroup.Group("")
	protected.Use(authkit.RequireAuth(tokens))
	protected.GET("/users/me", web.HandleWhoAmI(logger))

	adminOnly := protected.Group("/admin")
	adminOnly.Use(authkit.RequireRole(authkit.RoleAdmin))
	adminOnly.GET("/ping", web.HandleAdminPing())

	return &testHarness{router: router, metrics: metrics, clock: clock}
}

func (harness *testHarness) do(method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func registerAndLogin(t *testing.T, harness *testHarness, email string, password string, role string) (string, string) {
	t.Helper()
	registerBody := fmt.Sprintf(`{"email":%q,"password":%q,"role":%q}`, email, password, role)
	if recorder := harness.do(http.MethodPost, "/api/v1/auth/register", registerBody, nil); recorder.Code != http.StatusCreated {
		t.Fatalf("register failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	loginBody := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	loginRecorder := harness.do(http.MethodPost, "/api/v1/auth/login", loginBody, nil)
	if loginRecorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", loginRecorder.Code, loginRecorder.Body.String())
	}
	payload := decodeBody(t, loginRecorder)
	accessToken, _ := payload["token"].(string)
	refreshToken, _ := payload["refresh"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("login response missing tokens: %s", loginRecorder.Body.String())
	}
	return accessToken, refreshToken
}

func TestHealthEndpoint(t *testing.T) {
	harness := newHarness(t, nil)
	recorder := harness.do(http.MethodGet, "/api/v1/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestRegisterLoginAndWhoAmI(t *testing.T) {
	harness := newHarness(t, nil)
	accessToken, _ := registerAndLogin(t, harness, "a@x.com", "secret1", "")

	recorder := harness.do(http.MethodGet, "/api/v1/users/me", "", map[string]string{"Authorization": "Bearer " + accessToken})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["email"] != "a@x.com" || payload["role"] != "viewer" {
		t.Fatalf("unexpected identity payload: %v", payload)
	}
	if harness.metrics.Count(authkit.MetricLoginSuccess) != 1 {
		t.Fatalf("expected one successful login metric")
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	harness := newHarness(t, nil)

	missing := harness.do(http.MethodPost, "/api/v1/auth/register", `{"email":"","password":""}`, nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", missing.Code)
	}
	if payload := decodeBody(t, missing); payload["error"] != "email_password_required" {
		t.Fatalf("unexpected error payload: %v", payload)
	}

	first := harness.do(http.MethodPost, "/api/v1/auth/register", `{"email":"a@x.com","password":"secret1"}`, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	duplicate := harness.do(http.MethodPost, "/api/v1/auth/register", `{"email":"a@x.com","password":"secret2"}`, nil)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", duplicate.Code)
	}
	if payload := decodeBody(t, duplicate); payload["error"] != "email_in_use" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	harness := newHarness(t, nil)
	registerAndLogin(t, harness, "a@x.com", "secret1", "")

	wrongPassword := harness.do(http.MethodPost, "/api/v1/auth/login", `{"email":"a@x.com","password":"wrong"}`, nil)
	if wrongPassword.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", wrongPassword.Code)
	}
	unknownEmail := harness.do(http.MethodPost, "/api/v1/auth/login", `{"email":"nobody@x.com","password":"secret1"}`, nil)
	if unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", unknownEmail.Code)
	}
	if payload := decodeBody(t, unknownEmail); payload["error"] != "invalid_credentials" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	harness := newHarness(t, nil)

	noHeader := harness.do(http.MethodGet, "/api/v1/users/me", "", nil)
	if noHeader.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", noHeader.Code)
	}
	if payload := decodeBody(t, noHeader); payload["error"] != "missing_token" {
		t.Fatalf("unexpected error payload: %v", payload)
	}

	garbage := harness.do(http.MethodGet, "/api/v1/users/me", "", map[string]string{"Authorization": "Bearer not-a-token"})
	if garbage.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", garbage.Code)
	}
	if payload := decodeBody(t, garbage); payload["error"] != "invalid_token" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestAdminGate(t *testing.T) {
	harness := newHarness(t, nil)
	viewerToken, _ := registerAndLogin(t, harness, "viewer@x.com", "secret1", "")
	adminToken, _ := registerAndLogin(t, harness, "admin@x.com", "secret1", "admin")

	forbidden := harness.do(http.MethodGet, "/api/v1/admin/ping", "", map[string]string{"Authorization": "Bearer " + viewerToken})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", forbidden.Code)
	}
	if payload := decodeBody(t, forbidden); payload["error"] != "forbidden" {
		t.Fatalf("unexpected error payload: %v", payload)
	}

	allowed := harness.do(http.MethodGet, "/api/v1/admin/ping", "", map[string]string{"Authorization": "Bearer " + adminToken})
	if allowed.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", allowed.Code, allowed.Body.String())
	}
	payload := decodeBody(t, allowed)
	if payload["admin"] != true {
		t.Fatalf("unexpected admin payload: %v", payload)
	}
}

func TestRefreshFlow(t *testing.T) {
	harness := newHarness(t, nil)
	accessToken, refreshToken := registerAndLogin(t, harness, "a@x.com", "secret1", "")

	// Past the access TTL but inside the refresh TTL.
	harness.clock.Advance(2 * time.Hour)

	expired := harness.do(http.MethodGet, "/api/v1/users/me", "", map[string]string{"Authorization": "Bearer " + accessToken})
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired access token, got %d", expired.Code)
	}

	refreshed := harness.do(http.MethodPost, "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh":%q}`, refreshToken), nil)
	if refreshed.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d: %s", refreshed.Code, refreshed.Body.String())
	}
	newAccess, _ := decodeBody(t, refreshed)["access"].(string)
	if newAccess == "" {
		t.Fatalf("refresh response missing access token")
	}

	retried := harness.do(http.MethodGet, "/api/v1/users/me", "", map[string]string{"Authorization": "Bearer " + newAccess})
	if retried.Code != http.StatusOK {
		t.Fatalf("expected 200 with refreshed token, got %d", retried.Code)
	}
	if harness.metrics.Count(authkit.MetricRefreshSuccess) != 1 {
		t.Fatalf("expected one refresh success metric")
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	harness := newHarness(t, nil)
	accessToken, _ := registerAndLogin(t, harness, "a@x.com", "secret1", "")

	recorder := harness.do(http.MethodPost, "/api/v1/auth/refresh", fmt.Sprintf(`{"refresh":%q}`, accessToken), nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when an access token is presented for refresh, got %d", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["error"] != "invalid_refresh" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestRefreshRejectsGarbageAndEmpty(t *testing.T) {
	harness := newHarness(t, nil)

	empty := harness.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh":""}`, nil)
	if empty.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for empty refresh, got %d", empty.Code)
	}
	garbage := harness.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh":"not-a-token"}`, nil)
	if garbage.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage refresh, got %d", garbage.Code)
	}
	if harness.metrics.Count(authkit.MetricRefreshRejected) != 2 {
		t.Fatalf("expected two rejected refresh metrics, got %d", harness.metrics.Count(authkit.MetricRefreshRejected))
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	harness := newHarness(t, nil)

	withBody := harness.do(http.MethodPost, "/api/v1/auth/logout", `{"refresh":"whatever"}`, nil)
	if withBody.Code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", withBody.Code)
	}
	withoutBody := harness.do(http.MethodPost, "/api/v1/auth/logout", "", nil)
	if withoutBody.Code != http.StatusOK {
		t.Fatalf("expected 200 from body-less logout, got %d", withoutBody.Code)
	}
}

func TestRateLimitAppliesAcrossEndpoints(t *testing.T) {
	harness := newHarness(t, map[ratelimit.Plan]ratelimit.Limits{
		ratelimit.PlanFree: {Window: time.Minute, MaxRequests: 3},
		ratelimit.PlanPro:  {Window: time.Minute, MaxRequests: 100},
	})

	for i := 0; i < 3; i++ {
		if recorder := harness.do(http.MethodGet, "/api/v1/health", "", nil); recorder.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i+1, recorder.Code)
		}
	}
	denied := harness.do(http.MethodGet, "/api/v1/health", "", nil)
	if denied.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the free bucket is empty, got %d", denied.Code)
	}
	if payload := decodeBody(t, denied); payload["error"] != "rate_limited" {
		t.Fatalf("unexpected error payload: %v", payload)
	}

	// A higher tier keeps flowing while the free bucket is exhausted.
	proRequest := harness.do(http.MethodGet, "/api/v1/health", "", map[string]string{ratelimit.PlanHeaderName: "pro"})
	if proRequest.Code != http.StatusOK {
		t.Fatalf("pro plan request should pass, got %d", proRequest.Code)
	}

	// The window rolls over and the free tier recovers.
	harness.clock.Advance(time.Minute)
	recovered := harness.do(http.MethodGet, "/api/v1/health", "", nil)
	if recovered.Code != http.StatusOK {
		t.Fatalf("expected free tier to recover after the window, got %d", recovered.Code)
	}
}
