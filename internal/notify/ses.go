package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// sesAPI is the subset of *ses.Client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends notifications as email through AWS SES
type SESSender struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESSender loads the default AWS config for region
func NewSESSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESSender{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendMFACode implements services.Notifier
func (s *SESSender) SendMFACode(ctx context.Context, email, name, code string) error {
	return s.send(ctx, MFACodeMessage(email, name, code))
}

// SendLoginAlert implements services.Notifier
func (s *SESSender) SendLoginAlert(ctx context.Context, email, name, locationSummary, warning string) error {
	return s.send(ctx, LoginAlertMessage(email, name, locationSummary, warning))
}

func (s *SESSender) send(ctx context.Context, msg Message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML)},
				Text: &types.Content{Data: aws.String(msg.Text)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send %s via SES: %w", msg.Kind, err)
	}

	s.logger.Info("notification sent",
		slog.String("kind", msg.Kind),
		slog.String("email", logger.SanitizedEmail(msg.Recipient)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
