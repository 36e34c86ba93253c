// Package ses e-mails bridge alerts through Amazon SES.
package ses

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/discordbridge/internal/alert"
)

type API interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Config struct {
	Region string
	From   string
	To     []string
}

// Mailer is an alert.Sink. Only warning and error alerts are mailed.
type Mailer struct {
	client API
	from   string
	to     []string
	logger *zap.Logger
}

func NewMailer(ctx context.Context, cfg Config, logger *zap.Logger) (*Mailer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewMailerWithClient(ses.NewFromConfig(awsCfg), cfg, logger)
}

func NewMailerWithClient(client API, cfg Config, logger *zap.Logger) (*Mailer, error) {
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("ses mailer needs a sender and at least one recipient")
	}
	return &Mailer{client: client, from: cfg.From, to: cfg.To, logger: logger}, nil
}

func (m *Mailer) Name() string { return "ses" }

func (m *Mailer) Notify(ctx context.Context, a alert.Alert) error {
	if a.Variant != alert.VariantError && a.Variant != alert.VariantWarning {
		return nil
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(m.from),
		Destination: &types.Destination{ToAddresses: m.to},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Variant)), a.Title)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body(a)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	m.logger.Info("alert mailed via SES",
		zap.String("alert_id", a.ID),
		zap.Strings("to", m.to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func body(a alert.Alert) string {
	var b strings.Builder
	b.WriteString(a.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "key: %s\n", a.Key)
	fmt.Fprintf(&b, "alert id: %s\n", a.ID)
	if !a.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "at: %s\n", a.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
