package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/discord"
)

type fakeClock struct{ at time.Time }

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{at: time.Unix(1_700_000_000, 0)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig("discord"))
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("closed breaker should allow")
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "discord", MaxFailures: 3})
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("should still be closed below threshold")
	}
	trip(cb, 1)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject")
	}
}

func TestCircuitBreaker_ProbeLifecycle(t *testing.T) {
	tests := []struct {
		name  string
		probe func(cb *CircuitBreaker)
		want  State
	}{
		{"successful probe closes", (*CircuitBreaker).RecordSuccess, StateClosed},
		{"failed probe reopens", (*CircuitBreaker).RecordFailure, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "discord", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
			trip(cb, 2)

			clock.advance(29 * time.Second)
			if cb.Allow() {
				t.Fatal("should reject before recovery timeout")
			}

			clock.advance(time.Second)
			if !cb.Allow() {
				t.Fatal("should allow a probe after recovery timeout")
			}
			if cb.GetState() != StateHalfOpen {
				t.Fatalf("expected half-open, got %s", cb.GetState())
			}
			if cb.Allow() {
				t.Fatal("only one probe allowed in half-open")
			}

			tt.probe(cb)
			if cb.GetState() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "discord", MaxFailures: 3})
	trip(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset the failure count")
	}
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "discord", MaxFailures: 2})
	cb.Allow()
	cb.RecordSuccess()
	trip(cb, 2)
	cb.Allow() // rejected

	stats := cb.Stats()
	if stats.Name != "discord" || stats.State != "open" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Requests != 4 || stats.Successes != 1 || stats.Failed != 2 || stats.Rejected != 1 {
		t.Fatalf("unexpected counters %+v", stats)
	}
	if stats.LastFailure == "" {
		t.Fatal("expected last failure timestamp")
	}

	cb.Reset()
	if cb.GetState() != StateClosed || !cb.Allow() {
		t.Fatal("reset breaker should be closed and allow")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type mockPoster struct {
	calls  int
	err    error
	result *discord.PostResult
}

func (m *mockPoster) PostWebhook(context.Context, discord.PostRequest) (*discord.PostResult, error) {
	m.calls++
	return m.result, m.err
}

func TestProtectedPoster_PassesThrough(t *testing.T) {
	inner := &mockPoster{result: &discord.PostResult{ID: "m", ChannelID: "t"}}
	p := NewProtectedPoster(inner, New(DefaultConfig("discord"), zap.NewNop()), zap.NewNop())

	got, err := p.PostWebhook(context.Background(), discord.PostRequest{Wait: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ChannelID != "t" {
		t.Fatalf("result not passed through: %+v", got)
	}
}

func TestProtectedPoster_FailsFastWhenOpen(t *testing.T) {
	inner := &mockPoster{err: &discord.DeliveryError{StatusCode: 503}}
	p := NewProtectedPoster(inner, New(Config{Name: "discord", MaxFailures: 2, RecoveryTimeout: time.Hour}, zap.NewNop()), zap.NewNop())
	ctx := context.Background()

	p.PostWebhook(ctx, discord.PostRequest{})
	p.PostWebhook(ctx, discord.PostRequest{})

	_, err := p.PostWebhook(ctx, discord.PostRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner poster called %d times, want 2", inner.calls)
	}
}

func TestProtectedPoster_ClientErrorsDoNotTrip(t *testing.T) {
	inner := &mockPoster{err: &discord.DeliveryError{StatusCode: 400}}
	p := NewProtectedPoster(inner, New(Config{Name: "discord", MaxFailures: 1}, zap.NewNop()), zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := p.PostWebhook(context.Background(), discord.PostRequest{}); errors.Is(err, ErrCircuitOpen) {
			t.Fatal("400 responses should not open the breaker")
		}
	}
	if p.Breaker().GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", p.Breaker().GetState())
	}
}

func TestTripsBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", errors.New("dial tcp: refused"), true},
		{"server error", &discord.DeliveryError{StatusCode: 502}, true},
		{"rate limited", &discord.DeliveryError{StatusCode: 429, RateLimited: true}, true},
		{"not found", &discord.DeliveryError{StatusCode: 404}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tripsBreaker(tt.err); got != tt.want {
				t.Errorf("tripsBreaker = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_RetryIn(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "discord", MaxFailures: 1, RecoveryTimeout: 30 * time.Second})

	if got := cb.RetryIn(); got != 0 {
		t.Fatalf("closed breaker RetryIn = %v, want 0", got)
	}

	trip(cb, 1)
	if got := cb.RetryIn(); got != 30*time.Second {
		t.Fatalf("RetryIn = %v, want 30s", got)
	}

	clock.advance(20 * time.Second)
	if got := cb.RetryIn(); got != 10*time.Second {
		t.Fatalf("RetryIn = %v, want 10s", got)
	}

	clock.advance(time.Minute)
	if got := cb.RetryIn(); got != 0 {
		t.Fatalf("RetryIn after timeout = %v, want 0", got)
	}
}

func TestProtectedPoster_OpenErrorCarriesRetryAfter(t *testing.T) {
	inner := &mockPoster{err: errors.New("connection refused")}
	breaker, clock := newTestBreaker(Config{Name: "discord", MaxFailures: 1, RecoveryTimeout: 30 * time.Second})
	p := NewProtectedPoster(inner, breaker, zap.NewNop())
	ctx := context.Background()

	p.PostWebhook(ctx, discord.PostRequest{})
	clock.advance(5 * time.Second)

	_, err := p.PostWebhook(ctx, discord.PostRequest{})
	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected *OpenError, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("OpenError should match ErrCircuitOpen")
	}
	if open.RetryAfter != 25*time.Second {
		t.Errorf("RetryAfter = %v, want 25s", open.RetryAfter)
	}
}
