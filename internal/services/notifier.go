package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Notifier sends security notifications to principals. Delivery is best
// effort; authentication outcomes never depend on it.
type Notifier interface {
	SendAccountLocked(ctx context.Context, email string, until time.Time) error
	SendPasswordReset(ctx context.Context, email, token string, expiresIn time.Duration) error
}

// AWSSESNotifier sends notifications using AWS SES
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates a new AWS SES notifier
func NewAWSSESNotifier(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendAccountLocked notifies the account holder that repeated failed sign-in
// attempts locked the account.
func (s *AWSSESNotifier) SendAccountLocked(ctx context.Context, email string, until time.Time) error {
	textBody := fmt.Sprintf(`Your account has been temporarily locked

We detected several failed sign-in attempts on your account, so sign-in is
disabled until %s.

If this was you, simply wait and try again after that time, or reset your
password now: %s/reset-password

If this was not you, we recommend resetting your password as soon as the
lock expires.

This is an automated message. Please do not reply to this email.
`, until.UTC().Format(time.RFC1123), s.baseURL)

	return s.send(ctx, email, "Your account has been temporarily locked", textBody)
}

// SendPasswordReset delivers a password reset link.
func (s *AWSSESNotifier) SendPasswordReset(ctx context.Context, email, token string, expiresIn time.Duration) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	textBody := fmt.Sprintf(`Reset your password

We received a request to reset the password for your account. Use the link
below to choose a new password:

%s

This link expires in %s.

Didn't request this? You can ignore this email; your password will not change.

This is an automated message. Please do not reply to this email.
`, resetLink, expiresIn)

	return s.send(ctx, email, "Reset your password", textBody)
}

func (s *AWSSESNotifier) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send notification via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("notification sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

// NoopNotifier is used when email delivery is disabled.
type NoopNotifier struct {
	logger *slog.Logger
}

func NewNoopNotifier(logger *slog.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) SendAccountLocked(_ context.Context, _ string, until time.Time) error {
	n.logger.Debug("email disabled, dropping account-locked notification", slog.Time("until", until))
	return nil
}

func (n *NoopNotifier) SendPasswordReset(_ context.Context, _, _ string, _ time.Duration) error {
	n.logger.Debug("email disabled, dropping password-reset notification")
	return nil
}
