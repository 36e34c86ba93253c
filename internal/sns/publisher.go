// Package sns publishes bridge alerts to an SNS topic.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
)

// API is the part of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher is an alert.Sink that publishes alerts as JSON to one topic.
type Publisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// NewPublisher loads the default AWS config for region.
func NewPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewPublisherWithClient(sns.NewFromConfig(cfg), topicARN, logger), nil
}

func NewPublisherWithClient(client API, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topicARN: topicARN, logger: logger}
}

func (p *Publisher) Name() string { return "sns" }

// Notify publishes a. The variant and alert key are copied into message
// attributes so subscriptions can filter on them.
func (p *Publisher) Notify(ctx context.Context, a alert.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject(a.Title)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"variant": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(a.Variant)),
			},
			"alert_key": {
				DataType:    aws.String("String"),
				StringValue: aws.String(attr(a.Key)),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	p.logger.Debug("alert published to sns",
		zap.String("alert_id", a.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SNS subjects are limited to 100 ASCII characters without line breaks.
func subject(title string) string {
	if title == "" {
		title = "Discord bridge alert"
	}
	out := make([]rune, 0, len(title))
	for _, r := range title {
		if r < 0x20 || r > 0x7e {
			r = ' '
		}
		out = append(out, r)
		if len(out) == 100 {
			break
		}
	}
	return string(out)
}

// attribute values must not be empty
func attr(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
