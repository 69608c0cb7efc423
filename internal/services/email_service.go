package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Notifier delivers account emails carrying one-time links
type Notifier interface {
	SendEmailVerification(ctx context.Context, email, link string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error
}

// SESClient is the part of the SES API the notifier calls
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends emails using AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS configuration for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESNotifierWithClient builds a notifier on an existing client
func NewSESNotifierWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{client: client, fromAddress: fromAddress, logger: logger}
}

// SendEmailVerification mails the verification link
func (n *SESNotifier) SendEmailVerification(ctx context.Context, email, link string, expiresAt time.Time) error {
	text := fmt.Sprintf(`Verify your email address

Open the link below to confirm this address:

%s

The link expires at %s. If you did not create an account, ignore this email.
`, link, expiresAt.UTC().Format(time.RFC1123))

	return n.send(ctx, email, "Verify your email address", text, "verification")
}

// SendPasswordReset mails the password reset link
func (n *SESNotifier) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	text := fmt.Sprintf(`Reset your password

Open the link below to choose a new password:

%s

The link expires at %s and works once. If you did not ask for a reset, ignore this email; your password is unchanged.
`, link, expiresAt.UTC().Format(time.RFC1123))

	return n.send(ctx, email, "Reset your password", text, "password_reset")
}

func (n *SESNotifier) send(ctx context.Context, email, subject, text, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(text)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogNotifier writes links to the log instead of mailing them; development only
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, email, link string, expiresAt time.Time) error {
	n.logger.Info("email verification link", slog.String("email", email), slog.String("link", link), slog.Time("expires_at", expiresAt))
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, link string, expiresAt time.Time) error {
	n.logger.Info("password reset link", slog.String("email", email), slog.String("link", link), slog.Time("expires_at", expiresAt))
	return nil
}
