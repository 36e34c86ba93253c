// Package worker delivers queued webhook messages to Discord, one at a time.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
	"github.com/lalithlochan/discordbridge/internal/circuitbreaker"
	"github.com/lalithlochan/discordbridge/internal/db"
	"github.com/lalithlochan/discordbridge/internal/discord"
	"github.com/lalithlochan/discordbridge/internal/metrics"
)

// Queue is implemented by db.Queue.
type Queue interface {
	Dequeue(ctx context.Context, limit int) ([]*db.QueuedMessage, error)
	Delete(ctx context.Context, id int64) error
	UpdateThreadID(ctx context.Context, sessionID, threadID string) (int64, error)
	UpdateRetryCount(ctx context.Context, id int64, retryCount int, lastError string) error
	Count(ctx context.Context) (int, error)
}

// Poster is implemented by discord.Client and circuitbreaker.ProtectedPoster.
type Poster interface {
	PostWebhook(ctx context.Context, req discord.PostRequest) (*discord.PostResult, error)
}

// ThreadNamer names the thread created for a session's first message.
type ThreadNamer interface {
	ThreadName(sessionID string) string
}

// ThreadObserver is told about every thread the worker creates.
type ThreadObserver interface {
	OnThreadCreated(sessionID, threadID string)
}

// ThreadLookup reports a session's known thread. Rows enqueued without a
// thread id after the thread already exists are attached to it instead of
// opening a second thread.
type ThreadLookup interface {
	ThreadID(sessionID string) (string, bool)
}

// Alerter raises user-facing alerts; implemented by alert.Alerter.
type Alerter interface {
	MaybeAlert(ctx context.Context, a alert.Alert) bool
}

var errMissingThreadID = errors.New("thread creation response carried no thread id")

// Config controls delivery. Zero values fall back to a 1s poll interval,
// batches of one and five retries.
type Config struct {
	WebhookURL   string
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int

	// RetryMissingThreadID keeps a row whose thread-creating post succeeded
	// without returning a thread id, and sends it through the retry path.
	// By default such rows are deleted.
	RetryMissingThreadID bool
}

// Option customises a Worker.
type Option func(*Worker)

// WithSleep replaces the pause between batches. sleep returns false when
// stop was closed before d elapsed.
func WithSleep(sleep func(stop <-chan struct{}, d time.Duration) bool) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// WithAlerter sends retry, discard and storage alerts to a.
func WithAlerter(a Alerter) Option {
	return func(w *Worker) { w.alerter = a }
}

// WithThreadObserver reports created threads to o.
func WithThreadObserver(o ThreadObserver) Option {
	return func(w *Worker) { w.observer = o }
}

// WithThreadLookup lets the worker reuse a session thread known to l.
func WithThreadLookup(l ThreadLookup) Option {
	return func(w *Worker) { w.threads = l }
}

// Worker is a single-flight poll loop: Idle -> Running -> Idle. It starts on
// demand and goes idle by itself once the queue is empty.
type Worker struct {
	queue    Queue
	poster   Poster
	namer    ThreadNamer
	observer ThreadObserver
	threads  ThreadLookup
	alerter  Alerter
	config   Config
	logger   *zap.Logger
	sleep    func(stop <-chan struct{}, d time.Duration) bool

	// set when the breaker rejected a delivery; owned by the loop goroutine
	backoff time.Duration

	mu      sync.Mutex
	running bool
	pending bool // Start arrived while running; dequeue again before idling
	restart bool // Start arrived while stopping; relaunch on exit
	stopC   chan struct{}
	doneC   chan struct{}
}

// New creates a delivery worker. It stays idle until Start.
func New(queue Queue, poster Poster, namer ThreadNamer, cfg Config, logger *zap.Logger, opts ...Option) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}

	w := &Worker{
		queue:  queue,
		poster: poster,
		namer:  namer,
		config: cfg,
		logger: logger,
		sleep:  sleepOrStop,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the poll loop if it is idle and reports whether a new loop
// will run. A Start while the loop is stopping relaunches it once it exits.
// A Start while the loop is running returns false but guarantees one more
// dequeue before it idles.
func (w *Worker) Start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		w.launchLocked()
		return true
	}
	if w.stopC == nil {
		w.restart = true
		return true
	}
	w.pending = true
	return false
}

// Stop asks the loop to exit. The message in flight is finished first.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.restart = false
	if w.running && w.stopC != nil {
		close(w.stopC)
		w.stopC = nil
	}
}

// Wait blocks until the current loop exits.
func (w *Worker) Wait() {
	w.mu.Lock()
	running, done := w.running, w.doneC
	w.mu.Unlock()

	if running {
		<-done
	}
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) launchLocked() {
	w.running = true
	w.pending = false
	w.restart = false
	w.stopC = make(chan struct{})
	w.doneC = make(chan struct{})

	w.logger.Debug("delivery worker started")
	go w.run(w.stopC)
}

// caller holds mu
func (w *Worker) finishLocked() {
	w.running = false
	w.stopC = nil
	close(w.doneC)
	w.logger.Debug("delivery worker idle")

	if w.restart {
		w.launchLocked()
	}
}

func (w *Worker) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finishLocked()
}

// idle goes Idle unless a Start arrived since the last dequeue.
func (w *Worker) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending {
		w.pending = false
		return false
	}
	w.finishLocked()
	return true
}

func (w *Worker) run(stop <-chan struct{}) {
	// Deliveries are never cut short by Stop.
	ctx := context.Background()

	for {
		if stopped(stop) {
			w.logger.Info("delivery worker stopping")
			w.finish()
			return
		}

		messages, err := w.queue.Dequeue(ctx, w.config.BatchSize)
		if err != nil {
			w.storageFailure(ctx, "dequeue", err)
			w.finish()
			return
		}

		if len(messages) == 0 {
			metrics.SetQueueDepth(0)
			if w.idle() {
				return
			}
			continue
		}

		for _, msg := range messages {
			if err := w.processMessage(ctx, msg); err != nil {
				w.storageFailure(ctx, "process", err)
				w.finish()
				return
			}
		}

		if count, err := w.queue.Count(ctx); err == nil {
			metrics.SetQueueDepth(count)
		}

		wait := w.config.PollInterval
		if w.backoff > wait {
			wait = w.backoff
		}
		w.backoff = 0

		if stopped(stop) || !w.sleep(stop, wait) {
			w.logger.Info("delivery worker stopping")
			w.finish()
			return
		}
	}
}

// processMessage delivers one row. Delivery failures are handled here through
// the retry path; only storage failures are returned.
func (w *Worker) processMessage(ctx context.Context, msg *db.QueuedMessage) error {
	var body discord.WebhookBody
	if err := json.Unmarshal(msg.WebhookBody, &body); err != nil {
		return w.retry(ctx, msg, fmt.Errorf("decode webhook body: %w", err))
	}

	if !msg.HasThread() && w.threads != nil {
		if threadID, ok := w.threads.ThreadID(msg.SessionID); ok {
			// enqueued while the session's thread was being created
			if _, err := w.queue.UpdateThreadID(ctx, msg.SessionID, threadID); err != nil {
				return err
			}
			msg.ThreadID = &threadID
			w.logger.Debug("row attached to existing thread",
				zap.Int64("message_id", msg.ID),
				zap.String("session_id", msg.SessionID),
				zap.String("thread_id", threadID),
			)
		}
	}

	if !msg.HasThread() {
		return w.createThread(ctx, msg, body)
	}

	_, err := w.poster.PostWebhook(ctx, discord.PostRequest{
		WebhookURL: w.config.WebhookURL,
		ThreadID:   *msg.ThreadID,
		Body:       body,
	})
	if err != nil {
		metrics.RecordDelivery("post", failureOutcome(err))
		return w.retry(ctx, msg, err)
	}
	metrics.RecordDelivery("post", "delivered")

	w.logger.Debug("message delivered",
		zap.Int64("message_id", msg.ID),
		zap.String("session_id", msg.SessionID),
		zap.String("thread_id", *msg.ThreadID),
	)
	return w.queue.Delete(ctx, msg.ID)
}

// createThread posts the session's first message with a thread name, which
// makes Discord open a thread. The post itself delivers the content.
func (w *Worker) createThread(ctx context.Context, msg *db.QueuedMessage, body discord.WebhookBody) error {
	body.ThreadName = w.namer.ThreadName(msg.SessionID)

	result, err := w.poster.PostWebhook(ctx, discord.PostRequest{
		WebhookURL: w.config.WebhookURL,
		Wait:       true,
		Body:       body,
	})
	if err != nil {
		metrics.RecordDelivery("create_thread", failureOutcome(err))
		return w.retry(ctx, msg, err)
	}
	metrics.RecordDelivery("create_thread", "delivered")

	if result == nil || result.ChannelID == "" {
		if w.config.RetryMissingThreadID {
			return w.retry(ctx, msg, errMissingThreadID)
		}
		w.logger.Warn("thread created without a usable id, dropping row",
			zap.Int64("message_id", msg.ID),
			zap.String("session_id", msg.SessionID),
		)
		return w.queue.Delete(ctx, msg.ID)
	}

	// Publish the thread before patching rows. A row that still arrives
	// without a thread id is attached through the lookup in processMessage.
	if w.observer != nil {
		w.observer.OnThreadCreated(msg.SessionID, result.ChannelID)
	}

	patched, err := w.queue.UpdateThreadID(ctx, msg.SessionID, result.ChannelID)
	if err != nil {
		return err
	}
	metrics.RecordThreadCreated()

	w.logger.Info("thread created",
		zap.Int64("message_id", msg.ID),
		zap.String("session_id", msg.SessionID),
		zap.String("thread_id", result.ChannelID),
		zap.Int64("rows_patched", patched),
	)
	return w.queue.Delete(ctx, msg.ID)
}

// retry records a failed attempt, or deletes the row once MaxRetries is
// spent. A call the circuit breaker rejected never reached Discord, so it
// leaves the count alone and only delays the loop.
func (w *Worker) retry(ctx context.Context, msg *db.QueuedMessage, cause error) error {
	if errors.Is(cause, circuitbreaker.ErrCircuitOpen) {
		w.postpone(msg, cause)
		return nil
	}

	attempts := msg.RetryCount

	if attempts < w.config.MaxRetries {
		next := attempts + 1
		if err := w.queue.UpdateRetryCount(ctx, msg.ID, next, cause.Error()); err != nil {
			return err
		}
		metrics.RecordRetry()

		w.logger.Warn("delivery failed, will retry",
			zap.Int64("message_id", msg.ID),
			zap.String("session_id", msg.SessionID),
			zap.Int("retry", next),
			zap.Int("max_retries", w.config.MaxRetries),
			zap.Error(cause),
		)
		w.raise(ctx, alert.Alert{
			Key:     "discord-delivery-retry",
			Title:   "Discord delivery failed",
			Message: fmt.Sprintf("retry %d/%d: %v", next, w.config.MaxRetries, cause),
			Variant: alert.VariantWarning,
		})
		return nil
	}

	metrics.RecordDiscard()
	w.logger.Error("delivery failed, discarding message",
		zap.Int64("message_id", msg.ID),
		zap.String("session_id", msg.SessionID),
		zap.Int("retries", attempts),
		zap.Error(cause),
	)
	w.raise(ctx, alert.Alert{
		Key:     "discord-delivery-discarded",
		Title:   "Discord message dropped",
		Message: fmt.Sprintf("discarded after %d retries: %v", attempts, cause),
		Variant: alert.VariantError,
	})
	return w.queue.Delete(ctx, msg.ID)
}

func (w *Worker) postpone(msg *db.QueuedMessage, cause error) {
	w.backoff = 0
	var open *circuitbreaker.OpenError
	if errors.As(cause, &open) {
		w.backoff = open.RetryAfter
	}

	w.logger.Warn("circuit breaker open, delivery deferred",
		zap.Int64("message_id", msg.ID),
		zap.String("session_id", msg.SessionID),
		zap.Int("retry", msg.RetryCount),
		zap.Duration("backoff", w.backoff),
	)
}

func failureOutcome(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return "deferred"
	}
	return "failed"
}

func (w *Worker) storageFailure(ctx context.Context, op string, err error) {
	w.logger.Error("queue storage failed, delivery worker stopped",
		zap.String("op", op),
		zap.Error(err),
	)
	w.raise(ctx, alert.Alert{
		Key:     "discord-queue-storage",
		Title:   "Discord queue unavailable",
		Message: fmt.Sprintf("%s: %v", op, err),
		Variant: alert.VariantError,
	})
}

func (w *Worker) raise(ctx context.Context, a alert.Alert) {
	if w.alerter != nil {
		w.alerter.MaybeAlert(ctx, a)
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
