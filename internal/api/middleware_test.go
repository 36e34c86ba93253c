package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/redis"
)

type stubLimiter struct {
	result *redis.RateLimitResult
	err    error
	keys   []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"first forwarded hop", "1.1.1.1, 2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
		{"RemoteAddr without port", "", "5.6.7.8:1234", "ip:5.6.7.8"},
		{"RemoteAddr bare", "", "5.6.7.8", "ip:5.6.7.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/events", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	wrapped := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/events", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	limiter := &stubLimiter{result: &redis.RateLimitResult{
		Allowed:   true,
		Remaining: 9,
		ResetAt:   time.Now().Add(time.Minute),
	}}
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/v1/events", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("remaining header = %q", got)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "ip:10.0.0.1" {
		t.Errorf("limiter keys = %v", limiter.keys)
	}
}

func TestRateLimitMiddleware_Rejected(t *testing.T) {
	limiter := &stubLimiter{result: &redis.RateLimitResult{
		Allowed: false,
		ResetAt: time.Now().Add(30 * time.Second),
	}}
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/events", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/events", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when limiter errors, got %d", rec.Code)
	}
}
