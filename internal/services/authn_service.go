package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/config"
	"github.com/BradenHooton/vigil/internal/metrics"
	"github.com/BradenHooton/vigil/internal/models"
	pkgauth "github.com/BradenHooton/vigil/pkg/auth"
	pkglogger "github.com/BradenHooton/vigil/pkg/logger"
)

// PrincipalRepository defines the persistence operations the auth services need
type PrincipalRepository interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByLoginKey(ctx context.Context, loginKey string) (*models.Principal, error)
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetSecondFactor(ctx context.Context, id string, secret *string, enabled bool, codeHashes []string) error
	ListActiveBackupCodes(ctx context.Context, principalID string) ([]models.BackupCode, error)
	ConsumeBackupCode(ctx context.Context, codeID string) error
}

// EventRecorder appends to the security event ledger.
type EventRecorder interface {
	Append(principalID string, event models.SecurityEvent) models.SecurityEvent
}

// SecondFactorVerifier checks a second-factor proof for a principal whose
// password already passed.
type SecondFactorVerifier interface {
	VerifyTimeBasedCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error
	VerifyBackupCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error
}

// AuthState is the terminal state of one Authenticate call.
type AuthState string

const (
	StateAuthenticated       AuthState = "authenticated"
	StateSecondFactorPending AuthState = "second_factor_pending"
)

// Second-factor method labels used in events and metrics.
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// AuthResult is the outcome of a successful credential check. When the
// principal has a second factor enrolled, State is pending and the
// continuation token must be redeemed via CompleteSecondFactor.
type AuthResult struct {
	State             AuthState
	Principal         *models.Principal
	ContinuationToken string
}

// AuthService runs the credential and lockout state machine
type AuthService struct {
	repo         PrincipalRepository
	tm           *auth.TokenManager
	timing       *auth.TimingDelay
	events       EventRecorder
	secondFactor SecondFactorVerifier
	notifier     Notifier
	policy       config.AuthConfig
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	metrics      *metrics.Metrics
	clock        func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo PrincipalRepository,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	events EventRecorder,
	secondFactor SecondFactorVerifier,
	notifier Notifier,
	policy config.AuthConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		repo:         repo,
		tm:           tm,
		timing:       timing,
		events:       events,
		secondFactor: secondFactor,
		notifier:     notifier,
		policy:       policy,
		logger:       logger,
		auditLogger:  auditLogger,
		metrics:      m,
		clock:        time.Now,
	}
}

// SetClock substitutes the time source. Test use only.
func (s *AuthService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Authenticate verifies a login key and password and advances the lockout
// state machine. Unknown principals, inactive accounts, and wrong passwords
// all surface as ErrInvalidCredential inside the same timing envelope; an
// active lockout surfaces as ErrAccountLocked without evaluating the password.
func (s *AuthService) Authenticate(ctx context.Context, loginKey, password string, meta models.RequestMeta) (*AuthResult, error) {
	start := time.Now()
	now := s.clock()

	if loginKey = strings.ToLower(strings.TrimSpace(loginKey)); loginKey == "" {
		pkgauth.DummyCompare()
		s.timing.WaitFrom(start)
		return nil, models.ErrInvalidCredential
	}

	principal, err := s.repo.GetByLoginKey(ctx, loginKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// burn a hash so unknown principals cost the same as a mismatch
			pkgauth.DummyCompare()
			s.logger.Info("login attempt for unknown login key", slog.String("login_key", pkglogger.SanitizedEmail(loginKey)))
			s.failAudit("", "invalid_credentials", meta)
			s.timing.WaitFrom(start)
			return nil, models.ErrInvalidCredential
		}
		s.logger.Error("failed to get principal by login key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !principal.Active {
		pkgauth.DummyCompare()
		s.appendFailure(principal.ID, "account_inactive", 0, meta)
		s.failAudit(principal.ID, "account_inactive", meta)
		s.timing.WaitFrom(start)
		return nil, models.ErrInvalidCredential
	}

	if principal.Locked(now) {
		s.appendFailure(principal.ID, "account_locked", principal.FailedAttempts, meta)
		s.failAudit(principal.ID, "account_locked", meta)
		return nil, models.ErrAccountLocked
	}

	// a lapsed lock means the previous window is over; start fresh
	if principal.LockedUntil != nil && !now.Before(*principal.LockedUntil) {
		if err := s.repo.ResetFailedAttempts(ctx, principal.ID); err != nil {
			s.logger.Error("failed to clear expired lockout", slog.String("principal_id", principal.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		principal.FailedAttempts = 0
		principal.LockedUntil = nil
	}

	if err := pkgauth.ComparePassword(principal.PasswordHash, password); err != nil {
		if _, ferr := s.recordFailure(ctx, principal, now, meta); ferr != nil {
			return nil, ferr
		}
		s.timing.WaitFrom(start)
		return nil, models.ErrInvalidCredential
	}

	if principal.FailedAttempts > 0 {
		if err := s.repo.ResetFailedAttempts(ctx, principal.ID); err != nil {
			s.logger.Error("failed to reset attempt counter", slog.String("principal_id", principal.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		principal.FailedAttempts = 0
	}

	if principal.SecondFactorEnabled {
		token, err := s.tm.IssueContinuation(principal.ID)
		if err != nil {
			s.logger.Error("failed to issue continuation token", slog.String("principal_id", principal.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.metrics.LoginAttempts.WithLabelValues("second_factor_pending").Inc()
		s.logger.Info("password accepted, second factor pending", slog.String("principal_id", principal.ID))

		return &AuthResult{
			State:             StateSecondFactorPending,
			Principal:         principal,
			ContinuationToken: token,
		}, nil
	}

	if err := s.finishLogin(ctx, principal, now, meta); err != nil {
		return nil, err
	}

	return &AuthResult{State: StateAuthenticated, Principal: principal}, nil
}

// CompleteSecondFactor redeems a continuation token plus a second-factor
// proof and finishes the pending login.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, continuationToken, code, method string, meta models.RequestMeta) (*AuthResult, error) {
	now := s.clock()

	claims, err := s.tm.Validate(continuationToken, auth.TokenTypeContinuation)
	if err != nil {
		s.logger.Info("continuation token rejected", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	principal, err := s.repo.GetByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get principal for second factor", slog.String("principal_id", claims.PrincipalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !principal.Active {
		return nil, models.ErrUnauthorized
	}
	if principal.Locked(now) {
		return nil, models.ErrAccountLocked
	}

	switch method {
	case MethodBackupCode:
		err = s.secondFactor.VerifyBackupCode(ctx, principal, code, meta)
	default:
		method = MethodTOTP
		err = s.secondFactor.VerifyTimeBasedCode(ctx, principal, code, meta)
	}
	if err != nil {
		s.metrics.SecondFactor.WithLabelValues(method, "failure").Inc()
		return nil, err
	}
	s.metrics.SecondFactor.WithLabelValues(method, "success").Inc()

	if err := s.finishLogin(ctx, principal, now, meta); err != nil {
		return nil, err
	}

	return &AuthResult{State: StateAuthenticated, Principal: principal}, nil
}

// IssueSession mints the bearer token for a fully authenticated result.
func (s *AuthService) IssueSession(principal *models.Principal) (string, error) {
	token, err := s.tm.IssueSession(principal)
	if err != nil {
		s.logger.Error("failed to issue session token", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	return token, nil
}

// recordFailure increments the attempt counter and, when the threshold is
// crossed, activates the lockout as part of the same statement.
func (s *AuthService) recordFailure(ctx context.Context, principal *models.Principal, now time.Time, meta models.RequestMeta) (*time.Time, error) {
	count, lockedUntil, err := s.repo.RecordFailedAttempt(ctx, principal.ID, s.policy.LockoutThreshold, now.Add(s.policy.LockoutDuration))
	if err != nil {
		s.logger.Error("failed to record failed attempt", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.appendFailure(principal.ID, "invalid_credentials", count, meta)
	s.failAudit(principal.ID, "invalid_credentials", meta)

	if lockedUntil != nil {
		s.events.Append(principal.ID, models.SecurityEvent{
			Type:              models.EventAccountLocked,
			IPAddress:         meta.IPAddress,
			UserAgent:         meta.UserAgent,
			DeviceFingerprint: meta.DeviceFingerprint,
			Location:          meta.Location,
			CorrelationID:     meta.CorrelationID,
			Detail:            models.LockDetail{Until: *lockedUntil, Failures: count},
		})
		s.auditLogger.LogLockout(principal.ID, meta.IPAddress, *lockedUntil, count)
		s.metrics.Lockouts.Inc()

		email := principal.Email
		until := *lockedUntil
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.SendAccountLocked(ctx, email, until); err != nil {
				s.logger.Warn("account-locked notification failed", slog.Any("error", err))
			}
		}()
	}

	return lockedUntil, nil
}

func (s *AuthService) finishLogin(ctx context.Context, principal *models.Principal, now time.Time, meta models.RequestMeta) error {
	if err := s.repo.UpdateLastLogin(ctx, principal.ID, now); err != nil {
		s.logger.Error("failed to update last login", slog.String("principal_id", principal.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	principal.LastLoginAt = &now

	s.events.Append(principal.ID, models.SecurityEvent{
		Type:              models.EventLoginSuccess,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
	})
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     string(models.EventLoginSuccess),
		PrincipalID:   principal.ID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CorrelationID: meta.CorrelationID,
		Success:       true,
	})
	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("principal logged in", slog.String("principal_id", principal.ID))

	return nil
}

func (s *AuthService) appendFailure(principalID, reason string, attempt int, meta models.RequestMeta) {
	s.events.Append(principalID, models.SecurityEvent{
		Type:              models.EventLoginFailed,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		Location:          meta.Location,
		CorrelationID:     meta.CorrelationID,
		Detail:            models.AuthFailureDetail{Reason: reason, Attempt: attempt},
	})
}

func (s *AuthService) failAudit(principalID, reason string, meta models.RequestMeta) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     string(models.EventLoginFailed),
		PrincipalID:   principalID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CorrelationID: meta.CorrelationID,
		Success:       false,
		FailureReason: reason,
	})
	s.metrics.LoginAttempts.WithLabelValues("failure").Inc()
}
