package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/models"
	pkgauth "github.com/BradenHooton/vigil/pkg/auth"
	pkglogger "github.com/BradenHooton/vigil/pkg/logger"
)

// ResetService implements the password reset flow with short-lived signed
// reset tokens delivered out of band.
type ResetService struct {
	repo        PrincipalRepository
	tm          *auth.TokenManager
	events      EventRecorder
	notifier    Notifier
	tokenExpiry time.Duration
	logger      *slog.Logger
}

func NewResetService(
	repo PrincipalRepository,
	tm *auth.TokenManager,
	events EventRecorder,
	notifier Notifier,
	tokenExpiry time.Duration,
	logger *slog.Logger,
) *ResetService {
	return &ResetService{
		repo:        repo,
		tm:          tm,
		events:      events,
		notifier:    notifier,
		tokenExpiry: tokenExpiry,
		logger:      logger,
	}
}

// RequestPasswordReset issues a reset token and emails it to the account
// holder. The response is identical whether or not the login key exists.
func (s *ResetService) RequestPasswordReset(ctx context.Context, loginKey string, meta models.RequestMeta) error {
	loginKey = strings.ToLower(strings.TrimSpace(loginKey))
	if loginKey == "" {
		return nil
	}

	principal, err := s.repo.GetByLoginKey(ctx, loginKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown login key", slog.String("login_key", pkglogger.SanitizedEmail(loginKey)))
			return nil
		}
		s.logger.Error("failed to get principal for password reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !principal.Active {
		return nil
	}

	token, jti, err := s.tm.IssueReset(principal.ID)
	if err != nil {
		s.logger.Error("failed to issue reset token", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.events.Append(principal.ID, models.SecurityEvent{
		Type:              models.EventPasswordResetRequested,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.ResetDetail{TokenID: jti},
	})
	s.logger.Info("password reset requested", slog.String("principal_id", principal.ID))

	email := principal.Email
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.SendPasswordReset(ctx, email, token, s.tokenExpiry); err != nil {
			s.logger.Warn("password-reset notification failed", slog.Any("error", err))
		}
	}()

	return nil
}

// CompletePasswordReset validates a reset token and installs the new
// password. Completion also clears any failed-attempt state so the holder
// can sign in immediately.
func (s *ResetService) CompletePasswordReset(ctx context.Context, token, newPassword string, meta models.RequestMeta) error {
	claims, err := s.tm.Validate(token, auth.TokenTypeReset)
	if err != nil {
		s.logger.Info("reset token rejected", slog.Any("error", err))
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	principal, err := s.repo.GetByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get principal for reset completion", slog.String("principal_id", claims.PrincipalID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.repo.UpdatePassword(ctx, principal.ID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.repo.ResetFailedAttempts(ctx, principal.ID); err != nil {
		s.logger.Error("failed to reset attempt counter after password reset", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.events.Append(principal.ID, models.SecurityEvent{
		Type:              models.EventPasswordResetCompleted,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.ResetDetail{TokenID: claims.ID},
	})
	s.logger.Info("password reset completed", slog.String("principal_id", principal.ID))

	return nil
}
