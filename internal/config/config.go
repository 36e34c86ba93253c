package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Discord webhook
	WebhookURL string // empty disables notification delivery
	Username   string
	AvatarURL  string
	Mention    string // e.g. "@everyone" or "<@123>", prefixed to attention-worthy messages

	// Durable queue
	DBDriver    string // "sqlite" or "postgres"
	DBPath      string // sqlite file, ":memory:" for an in-memory store
	DatabaseURL string // postgres DSN

	// Worker
	PollInterval time.Duration
	MaxRetries   int

	// Transport
	WebhookTimeout     int // seconds
	RateLimitWait      time.Duration
	CircuitBreaker     bool
	DropOnMissingID    bool
	AlertCooldown      time.Duration
	IngestRateLimit    int // events per minute per client
	IngestRateLimitWin time.Duration

	// Redis config (optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS services (all optional)
	AWSRegion       string
	AlertTopicARN   string
	AlertEmailFrom  string
	AlertEmailTo    string
	EventsSQSURL    string
	EventsSQSRegion string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBDriver: "sqlite",
		DBPath:   "discord-queue.db",

		PollInterval: 1 * time.Second,
		MaxRetries:   5,

		WebhookTimeout:     30,
		RateLimitWait:      1 * time.Second,
		CircuitBreaker:     true,
		DropOnMissingID:    true,
		AlertCooldown:      60 * time.Second,
		IngestRateLimit:    600,
		IngestRateLimitWin: 1 * time.Minute,

		RedisPort: 6379,

		AWSRegion: "us-east-1",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Discord
	cfg.WebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")
	cfg.Username = os.Getenv("DISCORD_USERNAME")
	cfg.AvatarURL = os.Getenv("DISCORD_AVATAR_URL")
	cfg.Mention = os.Getenv("DISCORD_MENTION")

	// Queue storage
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		if driver != "sqlite" && driver != "postgres" {
			return nil, fmt.Errorf("invalid DB_DRIVER: %q (want sqlite or postgres)", driver)
		}
		cfg.DBDriver = driver
	}

	if path := os.Getenv("QUEUE_DB_PATH"); path != "" {
		cfg.DBPath = path
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
	}

	// Worker
	if ms := os.Getenv("WORKER_POLL_INTERVAL_MS"); ms != "" {
		v, err := strconv.Atoi(ms)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_POLL_INTERVAL_MS: %w", err)
		}
		cfg.PollInterval = time.Duration(v) * time.Millisecond
	}

	if retries := os.Getenv("WORKER_MAX_RETRIES"); retries != "" {
		v, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = v
	}

	// Transport
	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	}

	if ms := os.Getenv("RATE_LIMIT_DEFAULT_WAIT_MS"); ms != "" {
		v, err := strconv.Atoi(ms)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_DEFAULT_WAIT_MS: %w", err)
		}
		cfg.RateLimitWait = time.Duration(v) * time.Millisecond
	}

	if enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED: %w", err)
		}
		cfg.CircuitBreaker = b
	}

	if drop := os.Getenv("DROP_ON_MISSING_THREAD_ID"); drop != "" {
		b, err := strconv.ParseBool(drop)
		if err != nil {
			return nil, fmt.Errorf("invalid DROP_ON_MISSING_THREAD_ID: %w", err)
		}
		cfg.DropOnMissingID = b
	}

	if secs := os.Getenv("ALERT_COOLDOWN_SECONDS"); secs != "" {
		v, err := strconv.Atoi(secs)
		if err != nil {
			return nil, fmt.Errorf("invalid ALERT_COOLDOWN_SECONDS: %w", err)
		}
		cfg.AlertCooldown = time.Duration(v) * time.Second
	}

	if limit := os.Getenv("INGEST_RATE_LIMIT"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid INGEST_RATE_LIMIT: %w", err)
		}
		cfg.IngestRateLimit = v
	}

	// Redis config
	cfg.RedisHost = os.Getenv("REDIS_HOST")

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// AWS
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	cfg.AlertTopicARN = os.Getenv("ALERT_SNS_TOPIC_ARN")
	cfg.AlertEmailFrom = os.Getenv("ALERT_EMAIL_FROM")
	cfg.AlertEmailTo = os.Getenv("ALERT_EMAIL_TO")

	cfg.EventsSQSURL = os.Getenv("EVENTS_SQS_QUEUE_URL")
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.EventsSQSRegion = region
	} else {
		cfg.EventsSQSRegion = cfg.AWSRegion
	}

	return cfg, nil
}

// RedisEnabled reports whether a redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}
