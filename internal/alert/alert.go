// Package alert raises user-facing alerts, at most once per key per cooldown window.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/metrics"
)

type Variant string

const (
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Alert is one user-facing notice. Key groups alerts that share a cause.
type Alert struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Variant   Variant   `json:"variant"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink delivers an alert somewhere a human will see it.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
	Name() string
}

// Cooldown reserves a key for ttl. It returns false while the key is still held.
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Alerter fans alerts out to every sink, suppressing repeats of the same key.
type Alerter struct {
	cooldown Cooldown
	window   time.Duration
	sinks    []Sink
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Alerter. A nil cooldown disables deduplication.
func New(logger *zap.Logger, cooldown Cooldown, window time.Duration, sinks ...Sink) *Alerter {
	return &Alerter{
		cooldown: cooldown,
		window:   window,
		sinks:    sinks,
		logger:   logger,
		now:      time.Now,
	}
}

// MaybeAlert sends a unless an alert with the same key was sent within the
// cooldown window. It reports whether the alert was dispatched.
// Cooldown store errors fail open. Sink errors are logged and never returned.
func (a *Alerter) MaybeAlert(ctx context.Context, al Alert) bool {
	if a == nil {
		return false
	}

	if a.cooldown != nil && al.Key != "" && a.window > 0 {
		ok, err := a.cooldown.Acquire(ctx, al.Key, a.window)
		if err != nil {
			a.logger.Warn("alert cooldown unavailable, sending anyway",
				zap.String("key", al.Key),
				zap.Error(err),
			)
		} else if !ok {
			metrics.RecordAlertSuppressed()
			a.logger.Debug("alert suppressed", zap.String("key", al.Key))
			return false
		}
	}

	if al.ID == "" {
		al.ID = uuid.NewString()
	}
	if al.Variant == "" {
		al.Variant = VariantError
	}
	if al.CreatedAt.IsZero() {
		al.CreatedAt = a.now()
	}

	for _, sink := range a.sinks {
		if err := sink.Notify(ctx, al); err != nil {
			a.logger.Error("alert sink failed",
				zap.String("sink", sink.Name()),
				zap.String("key", al.Key),
				zap.Error(err),
			)
		}
	}

	metrics.RecordAlert(string(al.Variant))
	return true
}
