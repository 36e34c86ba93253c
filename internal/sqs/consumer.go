// Package sqs reads host events from an SQS queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/events"
)

type Config struct {
	Region   string
	QueueURL string

	WaitTimeSeconds   int32 // long poll, max 20
	VisibilityTimeout int32
	MaxMessages       int32
}

// API is the part of the SQS client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev events.Event) error

// Message is one received event and the receipt needed to delete it.
type Message struct {
	Event         events.Event
	ReceiptHandle string
	MessageID     string
}

type Consumer struct {
	client API
	cfg    Config
	logger *zap.Logger
	// pause after a failed receive
	backoff time.Duration
}

func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewConsumerWithClient(sqs.NewFromConfig(awsCfg), cfg, logger), nil
}

func NewConsumerWithClient(client API, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 60
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 10
	}

	logger.Info("sqs event consumer initialized", zap.String("queue_url", cfg.QueueURL))

	return &Consumer{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		backoff: 5 * time.Second,
	}
}

// Receive long-polls once. Bodies that are not valid events are deleted and skipped.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.cfg.VisibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	messages := make([]Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		ev, err := events.Decode([]byte(aws.ToString(m.Body)))
		if err != nil {
			c.logger.Warn("dropping malformed sqs event",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
			c.deleteQuietly(ctx, m)
			continue
		}
		messages = append(messages, Message{
			Event:         ev,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			MessageID:     aws.ToString(m.MessageId),
		})
	}
	return messages, nil
}

func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// Run hands every received event to handle until ctx is cancelled. Events are
// deleted only when handle succeeds; otherwise SQS redelivers them after the
// visibility timeout.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, m := range messages {
			if err := handle(ctx, m.Event); err != nil {
				// invalid events will never succeed
				if errors.Is(err, events.ErrInvalidEvent) {
					c.logger.Warn("dropping invalid sqs event",
						zap.String("message_id", m.MessageID),
						zap.Error(err),
					)
					if derr := c.Delete(ctx, m.ReceiptHandle); derr != nil {
						c.logger.Error("failed to delete sqs message", zap.Error(derr))
					}
					continue
				}
				c.logger.Error("event handler failed, leaving message for redelivery",
					zap.String("message_id", m.MessageID),
					zap.String("type", m.Event.Type),
					zap.Error(err),
				)
				continue
			}
			if err := c.Delete(ctx, m.ReceiptHandle); err != nil {
				c.logger.Error("failed to delete sqs message", zap.Error(err))
			}
		}
	}
}

func (c *Consumer) deleteQuietly(ctx context.Context, m types.Message) {
	if err := c.Delete(ctx, aws.ToString(m.ReceiptHandle)); err != nil {
		c.logger.Error("failed to delete sqs message", zap.Error(err))
	}
}
