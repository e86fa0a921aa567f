package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/anitya-web/internal/config"
	"github.com/eugenenazirov/anitya-web/internal/session"
	"github.com/eugenenazirov/anitya-web/internal/storage"
)

const (
	adminIdentity        = "http://pingou.id.fedoraproject.org"
	userIdentity         = "http://ralph.id.fedoraproject.org"
	troublemakerIdentity = "http://sometroublemaker.id.fedoraproject.org"
)

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	router   http.Handler
	clock    *controllableClock
	sessions *session.Manager
}

func setupTestRouter(t *testing.T, cfg config.Config, db Pinger) testEnv {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	sessions, err := session.NewManager(cfg.SecretKey, cfg.PermanentSessionLifetime, session.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	registry := storage.NewMemoryRegistry(cfg.WebAdmins, cfg.BlacklistedUsers)

	handler := NewHandler(cfg, registry, sessions, db, WithClock(clock.Now))
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false))

	return testEnv{router: router, clock: clock, sessions: sessions}
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.SecretKey = "muchsecretverysafe"
	cfg.WebAdmins = []string{adminIdentity}
	cfg.BlacklistedUsers = []string{troublemakerIdentity}
	return cfg
}

func (e testEnv) get(t *testing.T, target, identity string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if identity != "" {
		token, err := e.sessions.Issue(identity)
		if err != nil {
			t.Fatalf("Issue returned error: %v", err)
		}
		req.AddCookie(e.sessions.Cookie(token))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	env := setupTestRouter(t, testConfig(), db)
	rec := env.get(t, "/api/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Database  string    `json:"database"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" || body.Database != "ok" {
		t.Fatalf("expected ok/ok, got %s/%s", body.Status, body.Database)
	}
	if !body.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", env.clock.Now(), body.Timestamp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestHealthEndpointReportsDatabaseFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	env := setupTestRouter(t, testConfig(), db)
	rec := env.get(t, "/api/health", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "degraded" || body.Database != "unavailable" {
		t.Fatalf("expected degraded/unavailable, got %s/%s", body.Status, body.Database)
	}
}

func TestHealthEndpointWithoutDatabase(t *testing.T) {
	env := setupTestRouter(t, testConfig(), nil)
	rec := env.get(t, "/api/health", troublemakerIdentity)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to stay reachable, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" || body.Database != "disabled" {
		t.Fatalf("expected ok/disabled, got %s/%s", body.Status, body.Database)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.AllowGoogleOpenID = false
	cfg.AllowYahooOpenID = false
	cfg.FedoraOpenID = "https://id.stg.fedoraproject.org"
	env := setupTestRouter(t, cfg, nil)

	rec := env.get(t, "/api/login/providers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Providers []Provider `json:"providers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := []Provider{
		{Name: "fedora", URL: "https://id.stg.fedoraproject.org"},
		{Name: "openid"},
	}
	if len(body.Providers) != len(want) {
		t.Fatalf("expected %v, got %v", want, body.Providers)
	}
	for i := range want {
		if body.Providers[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, body.Providers)
		}
	}
}

func TestProvidersFromDefaults(t *testing.T) {
	if got := Providers(config.Defaults()); len(got) != 4 {
		t.Fatalf("expected every provider enabled by default, got %v", got)
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := setupTestRouter(t, testConfig(), nil)

	testCases := []struct {
		name      string
		identity  string
		wantCode  int
		wantAdmin bool
	}{
		{name: "anonymous", wantCode: http.StatusUnauthorized},
		{name: "admin", identity: adminIdentity, wantCode: http.StatusOK, wantAdmin: true},
		{name: "regular user", identity: userIdentity, wantCode: http.StatusOK},
		{name: "blacklisted", identity: troublemakerIdentity, wantCode: http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.get(t, "/api/session", tc.identity)
			if rec.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rec.Code)
			}
			if tc.wantCode != http.StatusOK {
				return
			}

			var body struct {
				Identity string `json:"identity"`
				Admin    bool   `json:"admin"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Identity != tc.identity || body.Admin != tc.wantAdmin {
				t.Fatalf("unexpected session %+v", body)
			}
		})
	}
}

func TestSessionExpiresAfterLifetime(t *testing.T) {
	cfg := testConfig()
	cfg.PermanentSessionLifetime = time.Minute
	env := setupTestRouter(t, cfg, nil)

	token, err := env.sessions.Issue(userIdentity)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	env.clock.Advance(2 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(env.sessions.Cookie(token))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired session to be anonymous, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	env := setupTestRouter(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := setupTestRouter(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	rec = env.get(t, "/api/health", "")
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", got)
	}
}
