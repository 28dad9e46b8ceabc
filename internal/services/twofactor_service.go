package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/models"
	pkgauth "github.com/BradenHooton/vigil/pkg/auth"
)

// SecondFactorService owns enrollment and verification of the second
// authentication factor: time-based codes plus single-use backup codes.
type SecondFactorService struct {
	repo            PrincipalRepository
	totp            *auth.TOTPManager
	events          EventRecorder
	backupCodeCount int
	logger          *slog.Logger
}

func NewSecondFactorService(
	repo PrincipalRepository,
	totp *auth.TOTPManager,
	events EventRecorder,
	backupCodeCount int,
	logger *slog.Logger,
) *SecondFactorService {
	return &SecondFactorService{
		repo:            repo,
		totp:            totp,
		events:          events,
		backupCodeCount: backupCodeCount,
		logger:          logger,
	}
}

// VerifyTimeBasedCode checks a TOTP code against the principal's enrolled
// secret. Failures never advance the lockout counter; they are recorded in
// the ledger instead.
func (s *SecondFactorService) VerifyTimeBasedCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error {
	if !principal.SecondFactorEnabled || principal.SecondFactorSecret == nil {
		return models.ErrSecondFactorNotEnabled
	}

	ok, err := s.totp.Validate(*principal.SecondFactorSecret, code)
	if err != nil {
		s.logger.Error("totp validation error", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.recordFailure(principal.ID, MethodTOTP, meta)
		return models.ErrInvalidSecondFactor
	}

	return nil
}

// VerifyBackupCode checks a recovery code against the principal's unused
// codes and consumes the match. A replayed code fails exactly like a wrong
// one; the distinction exists only in the repository layer.
func (s *SecondFactorService) VerifyBackupCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error {
	if !principal.SecondFactorEnabled {
		return models.ErrSecondFactorNotEnabled
	}

	normalized := auth.NormalizeBackupCode(code)
	if normalized == "" {
		s.recordFailure(principal.ID, MethodBackupCode, meta)
		return models.ErrInvalidSecondFactor
	}

	codes, err := s.repo.ListActiveBackupCodes(ctx, principal.ID)
	if err != nil {
		s.logger.Error("failed to list backup codes", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	for _, bc := range codes {
		if pkgauth.ComparePassword(bc.CodeHash, normalized) != nil {
			continue
		}

		if err := s.repo.ConsumeBackupCode(ctx, bc.ID); err != nil {
			if errors.Is(err, models.ErrBackupCodeUsed) {
				// lost the race to a concurrent redemption
				s.recordFailure(principal.ID, MethodBackupCode, meta)
				return models.ErrInvalidSecondFactor
			}
			s.logger.Error("failed to consume backup code", slog.String("principal_id", principal.ID), slog.Any("error", err))
			return models.ErrInternalServer
		}

		s.logger.Info("backup code redeemed",
			slog.String("principal_id", principal.ID),
			slog.Int("remaining", len(codes)-1),
		)
		return nil
	}

	s.recordFailure(principal.ID, MethodBackupCode, meta)
	return models.ErrInvalidSecondFactor
}

// InitiateEnrollment generates a candidate secret and provisioning QR code.
// Nothing persists until EnableSecondFactor proves possession.
func (s *SecondFactorService) InitiateEnrollment(ctx context.Context, principalID string) (*auth.Enrollment, error) {
	principal, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get principal for enrollment", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if principal.SecondFactorEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.totp.GenerateEnrollment(principal.Email)
	if err != nil {
		s.logger.Error("failed to generate enrollment", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return enrollment, nil
}

// EnableSecondFactor turns the second factor on. The candidate code must
// validate against the candidate secret before any state changes; on success
// the secret is stored together with freshly generated backup codes whose
// plaintext is returned exactly once.
func (s *SecondFactorService) EnableSecondFactor(ctx context.Context, principalID, secret, candidateCode string, meta models.RequestMeta) ([]string, error) {
	principal, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get principal for second factor enable", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if principal.SecondFactorEnabled {
		return nil, models.ErrConflict
	}

	ok, err := s.totp.Validate(secret, candidateCode)
	if err != nil {
		s.logger.Error("totp validation error during enable", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !ok {
		s.recordFailure(principal.ID, MethodTOTP, meta)
		return nil, models.ErrInvalidSecondFactor
	}

	plaintext, err := s.totp.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(plaintext))
	for i, code := range plaintext {
		hash, err := pkgauth.HashPassword(auth.NormalizeBackupCode(code))
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		hashes[i] = hash
	}

	if err := s.repo.SetSecondFactor(ctx, principal.ID, &secret, true, hashes); err != nil {
		s.logger.Error("failed to persist second factor", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.events.Append(principal.ID, models.SecurityEvent{
		Type:              models.EventSecondFactorEnabled,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.SecondFactorDetail{Method: MethodTOTP},
	})
	s.logger.Info("second factor enabled", slog.String("principal_id", principal.ID))

	return plaintext, nil
}

// DisableSecondFactor turns the second factor off. It demands both proofs:
// the current password and a current TOTP code.
func (s *SecondFactorService) DisableSecondFactor(ctx context.Context, principalID, password, code string, meta models.RequestMeta) error {
	principal, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get principal for second factor disable", slog.String("principal_id", principalID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !principal.SecondFactorEnabled || principal.SecondFactorSecret == nil {
		return models.ErrSecondFactorNotEnabled
	}

	if err := pkgauth.ComparePassword(principal.PasswordHash, password); err != nil {
		return models.ErrInvalidCredential
	}

	ok, err := s.totp.Validate(*principal.SecondFactorSecret, code)
	if err != nil {
		s.logger.Error("totp validation error during disable", slog.String("principal_id", principalID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.recordFailure(principal.ID, MethodTOTP, meta)
		return models.ErrInvalidSecondFactor
	}

	if err := s.repo.SetSecondFactor(ctx, principal.ID, nil, false, nil); err != nil {
		s.logger.Error("failed to clear second factor", slog.String("principal_id", principalID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.events.Append(principal.ID, models.SecurityEvent{
		Type:              models.EventSecondFactorDisabled,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.SecondFactorDetail{Method: MethodTOTP},
	})
	s.logger.Info("second factor disabled", slog.String("principal_id", principal.ID))

	return nil
}

func (s *SecondFactorService) recordFailure(principalID, method string, meta models.RequestMeta) {
	s.events.Append(principalID, models.SecurityEvent{
		Type:              models.EventSecondFactorFailed,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.SecondFactorDetail{Method: method},
	})
}
