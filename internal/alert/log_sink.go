package alert

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes alerts to the service log at a level matching the variant.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("key", a.Key),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
	}

	switch a.Variant {
	case VariantError:
		s.logger.Error("alert", fields...)
	case VariantWarning:
		s.logger.Warn("alert", fields...)
	default:
		s.logger.Info("alert", fields...)
	}
	return nil
}
