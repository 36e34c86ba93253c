package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
	"github.com/lalithlochan/discordbridge/internal/api"
	"github.com/lalithlochan/discordbridge/internal/circuitbreaker"
	"github.com/lalithlochan/discordbridge/internal/config"
	"github.com/lalithlochan/discordbridge/internal/db"
	"github.com/lalithlochan/discordbridge/internal/discord"
	"github.com/lalithlochan/discordbridge/internal/events"
	"github.com/lalithlochan/discordbridge/internal/observ"
	"github.com/lalithlochan/discordbridge/internal/redis"
	"github.com/lalithlochan/discordbridge/internal/session"
	"github.com/lalithlochan/discordbridge/internal/ses"
	"github.com/lalithlochan/discordbridge/internal/sns"
	"github.com/lalithlochan/discordbridge/internal/sqs"
	"github.com/lalithlochan/discordbridge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// disabledWorker stands in for the delivery worker when no webhook is configured.
type disabledWorker struct{}

func (disabledWorker) Start() bool   { return false }
func (disabledWorker) Running() bool { return false }

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting discord bridge",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("delivery_enabled", cfg.WebhookURL != ""),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		URL:    cfg.DatabaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open queue store: %w", err)
	}
	defer database.Close()

	queue := db.NewQueue(database, logger)
	registry := session.NewRegistry(logger)

	// Redis backs alert cooldowns, idempotency keys and the ingest limiter.
	// Without it cooldowns stay in process and the other two are disabled.
	var (
		cooldown    alert.Cooldown = alert.NewMemoryCooldown()
		limiter     api.Limiter
		handlerOpts []api.Option
	)
	if cfg.RedisEnabled() {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process alert cooldowns",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			cooldown = redis.NewCooldown(redisClient, "alert")
			limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.IngestRateLimit,
				Window: cfg.IngestRateLimitWin,
			})
			handlerOpts = append(handlerOpts,
				api.WithIdempotency(redis.NewIdempotency(redisClient, logger, redis.IdempotencyTTL)))
		}
	}

	sinks := []alert.Sink{alert.NewLogSink(logger)}

	if cfg.AlertTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, cfg.AWSRegion, cfg.AlertTopicARN, logger)
		if err != nil {
			logger.Warn("sns publisher unavailable, alerts will not be published", zap.Error(err))
		} else {
			sinks = append(sinks, publisher)
		}
	}

	if cfg.AlertEmailFrom != "" && cfg.AlertEmailTo != "" {
		mailer, err := ses.NewMailer(ctx, ses.Config{
			Region: cfg.AWSRegion,
			From:   cfg.AlertEmailFrom,
			To:     splitList(cfg.AlertEmailTo),
		}, logger)
		if err != nil {
			logger.Warn("ses mailer unavailable, alerts will not be emailed", zap.Error(err))
		} else {
			sinks = append(sinks, mailer)
		}
	}

	alerter := alert.New(logger, cooldown, cfg.AlertCooldown, sinks...)

	client := discord.NewClient(logger, discord.Config{
		Timeout:           time.Duration(cfg.WebhookTimeout) * time.Second,
		DefaultRetryAfter: cfg.RateLimitWait,
	}, discord.WithAlerter(alerter))

	var poster worker.Poster = client
	if cfg.CircuitBreaker {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("discord-webhook"), logger)
		poster = circuitbreaker.NewProtectedPoster(client, breaker, logger)
		handlerOpts = append(handlerOpts, api.WithBreaker(breaker))
	}

	var (
		control  api.WorkerControl = disabledWorker{}
		starter  events.Starter    = disabledWorker{}
		delivery *worker.Worker
	)
	if cfg.WebhookURL != "" {
		delivery = worker.New(queue, poster, registry, worker.Config{
			WebhookURL:           cfg.WebhookURL,
			PollInterval:         cfg.PollInterval,
			MaxRetries:           cfg.MaxRetries,
			RetryMissingThreadID: !cfg.DropOnMissingID,
		}, logger,
			worker.WithAlerter(alerter),
			worker.WithThreadObserver(registry),
			worker.WithThreadLookup(registry),
		)
		control, starter = delivery, delivery

		// drain whatever survived the last shutdown
		if pending, err := queue.Count(ctx); err == nil && pending > 0 {
			logger.Info("resuming queued deliveries", zap.Int("pending", pending))
			delivery.Start()
		}
	} else {
		logger.Warn("DISCORD_WEBHOOK_URL not set, notifications disabled")
	}

	notifier := events.NewNotifier(events.NotifierConfig{
		WebhookURL: cfg.WebhookURL,
		Formatter: &events.Formatter{
			Username:  cfg.Username,
			AvatarURL: cfg.AvatarURL,
			Mention:   cfg.Mention,
		},
	}, queue, starter, registry, alerter, logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	if cfg.EventsSQSURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.EventsSQSRegion,
			QueueURL: cfg.EventsSQSURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, events accepted over HTTP only", zap.Error(err))
			close(consumerDone)
		} else {
			go func() {
				defer close(consumerDone)
				if err := consumer.Run(consumerCtx, notifier.Handle); err != nil {
					logger.Error("sqs consumer stopped", zap.Error(err))
				}
			}()
		}
	} else {
		close(consumerDone)
	}

	handler := api.NewHandler(logger, notifier, queue, control, database, handlerOpts...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	stopConsumer()
	<-consumerDone

	// In-flight deliveries finish; undelivered rows stay queued for the next start.
	if delivery != nil {
		delivery.Stop()
		delivery.Wait()
	}

	logger.Info("bridge stopped")
	return runErr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
