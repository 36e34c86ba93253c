package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type failingCooldown struct{}

func (failingCooldown) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestAlerter_SuppressesSameKeyWithinWindow(t *testing.T) {
	sink := &recordingSink{}
	a := New(zap.NewNop(), NewMemoryCooldown(), time.Minute, sink)
	ctx := context.Background()

	if !a.MaybeAlert(ctx, Alert{Key: "discord-429", Title: "Rate limited"}) {
		t.Fatal("first alert should be sent")
	}
	if a.MaybeAlert(ctx, Alert{Key: "discord-429", Title: "Rate limited"}) {
		t.Fatal("second alert with same key should be suppressed")
	}
	if !a.MaybeAlert(ctx, Alert{Key: "discord-500", Title: "Server error"}) {
		t.Fatal("different key should be sent")
	}

	if sink.count() != 2 {
		t.Fatalf("expected 2 alerts, got %d", sink.count())
	}
}

func TestAlerter_FillsDefaults(t *testing.T) {
	sink := &recordingSink{}
	a := New(zap.NewNop(), nil, 0, sink)

	a.MaybeAlert(context.Background(), Alert{Key: "k", Message: "boom"})

	got := sink.alerts[0]
	if got.ID == "" {
		t.Error("expected generated id")
	}
	if got.Variant != VariantError {
		t.Errorf("variant = %s, want error", got.Variant)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}
}

func TestAlerter_CooldownErrorFailsOpen(t *testing.T) {
	sink := &recordingSink{}
	a := New(zap.NewNop(), failingCooldown{}, time.Minute, sink)

	if !a.MaybeAlert(context.Background(), Alert{Key: "k"}) {
		t.Fatal("alert should be sent when cooldown store fails")
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", sink.count())
	}
}

func TestAlerter_SinkErrorDoesNotStopOtherSinks(t *testing.T) {
	broken := &recordingSink{err: errors.New("sns unavailable")}
	healthy := &recordingSink{}
	a := New(zap.NewNop(), nil, 0, broken, healthy)

	if !a.MaybeAlert(context.Background(), Alert{Key: "k"}) {
		t.Fatal("expected alert to be dispatched")
	}
	if healthy.count() != 1 {
		t.Fatal("healthy sink should still receive the alert")
	}
}

func TestAlerter_NilIsNoop(t *testing.T) {
	var a *Alerter
	if a.MaybeAlert(context.Background(), Alert{Key: "k"}) {
		t.Fatal("nil alerter should not report a dispatch")
	}
}

func TestMemoryCooldown_ExpiresAfterTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCooldown()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := c.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := c.Acquire(ctx, "k", time.Minute); ok {
		t.Fatal("acquire inside window should fail")
	}

	now = now.Add(31 * time.Second)
	if ok, _ := c.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("acquire after window should succeed")
	}
}

func TestLogSink_AllVariants(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	for _, v := range []Variant{VariantInfo, VariantSuccess, VariantWarning, VariantError} {
		if err := sink.Notify(context.Background(), Alert{Key: "k", Variant: v}); err != nil {
			t.Errorf("%s: %v", v, err)
		}
	}
}
