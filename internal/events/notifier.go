package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
	"github.com/lalithlochan/discordbridge/internal/discord"
	"github.com/lalithlochan/discordbridge/internal/metrics"
)

// Enqueuer is implemented by db.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, sessionID string, threadID *string, body any) (int64, error)
}

// Starter is implemented by worker.Worker.
type Starter interface {
	Start() bool
}

// Sessions is implemented by session.Registry.
type Sessions interface {
	ThreadID(sessionID string) (string, bool)
	SetTitle(sessionID, title string)
	Title(sessionID string) (string, bool)
}

type Alerter interface {
	MaybeAlert(ctx context.Context, a alert.Alert) bool
}

type NotifierConfig struct {
	WebhookURL string // empty disables delivery
	Formatter  *Formatter
}

// Notifier handles host events: it keeps session state current and enqueues
// a webhook message for every event worth a notification.
type Notifier struct {
	enabled  bool
	format   *Formatter
	queue    Enqueuer
	worker   Starter
	sessions Sessions
	parts    *PartBuffer
	alerter  Alerter
	logger   *zap.Logger
}

func NewNotifier(cfg NotifierConfig, queue Enqueuer, worker Starter, sessions Sessions, alerter Alerter, logger *zap.Logger) *Notifier {
	format := cfg.Formatter
	if format == nil {
		format = &Formatter{}
	}
	return &Notifier{
		enabled:  cfg.WebhookURL != "",
		format:   format,
		queue:    queue,
		worker:   worker,
		sessions: sessions,
		parts:    NewPartBuffer(),
		alerter:  alerter,
		logger:   logger,
	}
}

// Handle processes one event. Unknown event types are ignored. Malformed
// properties return an error wrapping ErrInvalidEvent; storage failures
// from Enqueue are returned as is.
func (n *Notifier) Handle(ctx context.Context, ev Event) error {
	metrics.RecordEventReceived(ev.Type)

	switch ev.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		var p sessionProps
		if err := ev.decode(&p); err != nil {
			return err
		}
		if p.Info.ID == "" {
			return fmt.Errorf("%w: %s without session id", ErrInvalidEvent, ev.Type)
		}
		n.sessions.SetTitle(p.Info.ID, p.Info.Title)
		if ev.Type == TypeSessionCreated {
			return n.enqueue(ctx, p.Info.ID, n.format.SessionStarted(p.Info.ID, p.Info.Title))
		}
		return nil

	case TypePermissionUpdated:
		var p Permission
		if err := ev.decode(&p); err != nil {
			return err
		}
		return n.enqueue(ctx, p.SessionID, n.format.PermissionRequested(p))

	case TypeSessionIdle:
		var p sessionRef
		if err := ev.decode(&p); err != nil {
			return err
		}
		title, _ := n.sessions.Title(p.SessionID)
		body := n.format.SessionIdle(p.SessionID, title, n.parts.LastText(p.SessionID))
		n.parts.Forget(p.SessionID)
		return n.enqueue(ctx, p.SessionID, body)

	case TypeSessionError:
		var p sessionErrorProps
		if err := ev.decode(&p); err != nil {
			return err
		}
		if p.SessionID == "" {
			n.alertOrphanError(ctx, p.Error)
			return nil
		}
		return n.enqueue(ctx, p.SessionID, n.format.SessionError(p.SessionID, p.Error))

	case TypeTodoUpdated:
		var p todoProps
		if err := ev.decode(&p); err != nil {
			return err
		}
		return n.enqueue(ctx, p.SessionID, n.format.TodoUpdated(p.SessionID, p.Todos))

	case TypeMessageUpdated:
		var p messageProps
		if err := ev.decode(&p); err != nil {
			return err
		}
		n.parts.SetMessage(p.Info)
		return nil

	case TypeMessagePartUpdated:
		var p partProps
		if err := ev.decode(&p); err != nil {
			return err
		}
		n.parts.SetPart(p.Part)
		return nil
	}

	n.logger.Debug("ignoring event", zap.String("type", ev.Type))
	return nil
}

func (n *Notifier) enqueue(ctx context.Context, sessionID string, body discord.WebhookBody) error {
	if !n.enabled {
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("%w: notification without session id", ErrInvalidEvent)
	}

	var threadID *string
	if id, ok := n.sessions.ThreadID(sessionID); ok {
		threadID = &id
	}

	id, err := n.queue.Enqueue(ctx, sessionID, threadID, body)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	metrics.RecordMessageEnqueued()

	n.logger.Debug("notification queued",
		zap.Int64("message_id", id),
		zap.String("session_id", sessionID),
		zap.Bool("has_thread", threadID != nil),
	)

	n.worker.Start()
	return nil
}

func (n *Notifier) alertOrphanError(ctx context.Context, e *SessionError) {
	if n.alerter == nil {
		return
	}
	msg := "A session error was reported without a session."
	key := "session-error"
	if e != nil {
		if e.Data.Message != "" {
			msg = e.Data.Message
		}
		if e.Name != "" {
			key += "-" + e.Name
		}
	}
	n.alerter.MaybeAlert(ctx, alert.Alert{
		Key:     key,
		Title:   "Session error",
		Message: msg,
		Variant: alert.VariantError,
	})
}
