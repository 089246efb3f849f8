package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

// ResetNotifier delivers password reset links
type ResetNotifier interface {
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// sesSender is the part of the SES client the notifier uses
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   sesSender
	fromAddress string
	resetURL    string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, resetURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESEmailService(ses.NewFromConfig(cfg), fromAddress, resetURL, logger), nil
}

func newSESEmailService(client sesSender, fromAddress, resetURL string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		resetURL:    resetURL,
		logger:      logger,
	}
}

// ResetLink builds the link the user follows to choose a new password
func (s *AWSSESEmailService) ResetLink(token string) string {
	sep := "?"
	if strings.Contains(s.resetURL, "?") {
		sep = "&"
	}
	return s.resetURL + sep + "token=" + url.QueryEscape(token)
}

// SendPasswordResetEmail sends the reset link to the user
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := s.ResetLink(token)
	expires := expiresAt.UTC().Format("15:04 MST")

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Reset your QuickStack password</h1>
        <p>We received a request to reset the password for your point of sale account.</p>
        <p><a href="%s" class="button">Choose a new password</a></p>
        <p>Or copy and paste this link in your browser:<br>
        <code>%s</code></p>
        <p>The link can be used once and expires at %s.</p>
        <p>If you did not ask for this, you can ignore this email. Your password will not change.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, link, link, expires)

	textBody := fmt.Sprintf(`Reset your QuickStack password

We received a request to reset the password for your point of sale account.

%s

The link can be used once and expires at %s.

If you did not ask for this, you can ignore this email. Your password will not change.
`, link, expires)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Reset your password"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send password reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("password reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogResetNotifier stands in for SES when email delivery is disabled.
// It never logs the token.
type LogResetNotifier struct {
	logger *slog.Logger
}

func NewLogResetNotifier(logger *slog.Logger) *LogResetNotifier {
	return &LogResetNotifier{logger: logger}
}

func (n *LogResetNotifier) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	n.logger.Info("password reset email suppressed, delivery disabled",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("expires_at", expiresAt))
	return nil
}
