package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// SESClient is the subset of the SES API used to send alert emails
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertNotifier emails security alerts using AWS SES
type SESAlertNotifier struct {
	sesClient   SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESAlertNotifier creates a new SES alert notifier using the default AWS credential chain
func NewSESAlertNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESAlertNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESAlertNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

// NewSESAlertNotifierWithClient creates a notifier around an existing SES client
func NewSESAlertNotifierWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *SESAlertNotifier {
	return &SESAlertNotifier{
		sesClient:   client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// NotifyAlert sends one email per alert to every configured recipient
func (s *SESAlertNotifier) NotifyAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if len(s.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity.String()), alert.AlertType)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Security Alert: %s</h1>
        </div>
        <div class="warning">
            <strong>Severity:</strong> %s
        </div>
        <p>%s</p>
        <p><strong>Raised at:</strong> %s<br>
        <strong>Alert ID:</strong> <code>%s</code></p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`,
		html.EscapeString(alert.AlertType),
		html.EscapeString(alert.Severity.String()),
		html.EscapeString(alert.Message),
		alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
		alert.ID.String())

	textBody := fmt.Sprintf(`Security Alert: %s

Severity: %s

%s

Raised at: %s
Alert ID: %s

This is an automated message. Please do not reply to this email.
`,
		alert.AlertType,
		alert.Severity.String(),
		alert.Message,
		alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
		alert.ID.String())

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.String("alert_type", alert.AlertType),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	s.logger.Info("security alert email sent",
		slog.String("alert_type", alert.AlertType),
		slog.Int("recipients", len(s.recipients)),
		slog.String("message_id", messageID))

	return nil
}
