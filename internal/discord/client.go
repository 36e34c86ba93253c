package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
	"github.com/lalithlochan/discordbridge/internal/metrics"
)

const maxResponseBody = 64 << 10

// Alerter is the subset of alert.Alerter the client needs.
type Alerter interface {
	MaybeAlert(ctx context.Context, a alert.Alert) bool
}

type Config struct {
	Timeout           time.Duration // per HTTP call
	DefaultRetryAfter time.Duration // used when a 429 carries no hint
	UserAgent         string
}

type Option func(*Client)

// WithSleep replaces the wait used between a 429 and its retry.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAlerter(a Alerter) Option {
	return func(c *Client) { c.alerter = a }
}

// Client executes Discord channel webhooks.
type Client struct {
	http      *http.Client
	logger    *zap.Logger
	alerter   Alerter
	sleep     func(ctx context.Context, d time.Duration) error
	userAgent string
	retryWait time.Duration
}

// NewClient creates a webhook client
func NewClient(logger *zap.Logger, cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retryWait := cfg.DefaultRetryAfter
	if retryWait == 0 {
		retryWait = time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "DiscordBridge/1.0"
	}

	c := &Client{
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
		sleep:     sleepContext,
		userAgent: userAgent,
		retryWait: retryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL appends the thread_id and wait query parameters to a webhook URL.
func BuildURL(webhookURL, threadID string, wait bool) (string, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	q := u.Query()
	if threadID != "" {
		q.Set("thread_id", threadID)
	}
	if wait {
		q.Set("wait", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// PostWebhook posts one message. A 429 is waited out and retried exactly once.
// With req.Wait the created message is parsed; a response without both id and
// channel_id yields a nil result and no error.
func (c *Client) PostWebhook(ctx context.Context, req PostRequest) (*PostResult, error) {
	target, err := BuildURL(req.WebhookURL, req.ThreadID, req.Wait)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}

	resp, err := c.do(ctx, target, payload)
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusTooManyRequests {
		metrics.RecordRateLimited()
		wait := c.retryAfter(resp)

		c.logger.Warn("discord rate limited, retrying once",
			zap.Duration("retry_after", wait),
			zap.String("thread_id", req.ThreadID),
		)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}

		resp, err = c.do(ctx, target, payload)
		if err != nil {
			return nil, err
		}

		if resp.status == http.StatusTooManyRequests {
			metrics.RecordRateLimited()
			c.raise(ctx, alert.Alert{
				Key:     "discord-rate-limit",
				Title:   "Discord rate limit",
				Message: "Discord is still rate limiting the webhook after a retry",
				Variant: alert.VariantWarning,
			})
			return nil, &DeliveryError{StatusCode: resp.status, Body: string(resp.body), RateLimited: true}
		}
	}

	if resp.status < 200 || resp.status >= 300 {
		c.raise(ctx, alert.Alert{
			Key:     fmt.Sprintf("discord-http-%d", resp.status),
			Title:   "Discord webhook error",
			Message: fmt.Sprintf("Discord returned status %d", resp.status),
			Variant: alert.VariantError,
		})
		return nil, &DeliveryError{StatusCode: resp.status, Body: string(resp.body)}
	}

	c.logger.Debug("webhook delivered",
		zap.Int("status_code", resp.status),
		zap.String("thread_id", req.ThreadID),
		zap.Bool("wait", req.Wait),
	)

	if !req.Wait {
		return nil, nil
	}
	return parseResult(resp.body), nil
}

func (c *Client) do(ctx context.Context, target string, payload []byte) (*response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordWebhookCall(0, time.Since(start))
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	metrics.RecordWebhookCall(resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// retryAfter prefers the JSON retry_after field, then the Retry-After header.
// Both are in seconds.
func (c *Client) retryAfter(resp *response) time.Duration {
	var rl struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if len(resp.body) > 0 && json.Unmarshal(resp.body, &rl) == nil && rl.RetryAfter != nil {
		if d, ok := seconds(*rl.RetryAfter); ok {
			return d
		}
	}

	if h := strings.TrimSpace(resp.header.Get("Retry-After")); h != "" {
		if v, err := strconv.ParseFloat(h, 64); err == nil {
			if d, ok := seconds(v); ok {
				return d
			}
		}
	}

	return c.retryWait
}

func seconds(v float64) (time.Duration, bool) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return time.Duration(v * float64(time.Second)), true
}

func parseResult(body []byte) *PostResult {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	id, ok := raw["id"].(string)
	if !ok {
		return nil
	}
	channelID, ok := raw["channel_id"].(string)
	if !ok {
		return nil
	}
	return &PostResult{ID: id, ChannelID: channelID}
}

func (c *Client) raise(ctx context.Context, a alert.Alert) {
	if c.alerter != nil {
		c.alerter.MaybeAlert(ctx, a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
