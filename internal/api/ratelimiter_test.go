package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticLimiter struct {
	allow bool
}

func (s *staticLimiter) Allow(*http.Request) bool {
	return s.allow
}

func TestRateLimitMiddlewareBlocksWhenLimiterDenies(t *testing.T) {
	middleware := rateLimitMiddleware(&staticLimiter{allow: false}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler should not execute when rate limited")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewarePassesWhenLimiterAllows(t *testing.T) {
	var called bool
	middleware := rateLimitMiddleware(&staticLimiter{allow: true}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to execute when limiter allows")
	}
}

func TestNewTokenBucketLimiterUsesDefaults(t *testing.T) {
	limiter := newTokenBucketLimiter(0, 0)
	if limiter == nil {
		t.Fatalf("expected limiter instance")
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if !limiter.Allow(req) {
		t.Fatalf("expected first request to be allowed")
	}
}

func TestLimiterTracksClientsSeparately(t *testing.T) {
	limiter := newTokenBucketLimiter(1, 1)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:4000"
	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.2:4000"

	if !limiter.Allow(first) {
		t.Fatalf("expected first client to be allowed")
	}
	if limiter.Allow(first) {
		t.Fatalf("expected first client to be limited after its burst")
	}
	if !limiter.Allow(second) {
		t.Fatalf("expected second client to have its own bucket")
	}
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientAddr(req); got != "2001:db8::1" {
		t.Fatalf("expected host part, got %s", got)
	}
	req.RemoteAddr = "unix-socket"
	if got := clientAddr(req); got != "unix-socket" {
		t.Fatalf("expected raw address when no port, got %s", got)
	}
}
