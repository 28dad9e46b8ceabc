package services

import (
	"context"
	"time"

	"github.com/BradenHooton/vigil/internal/models"
)

// MockPrincipalRepository implements PrincipalRepository for testing
type MockPrincipalRepository struct {
	GetByIDFunc               func(ctx context.Context, id string) (*models.Principal, error)
	GetByLoginKeyFunc         func(ctx context.Context, loginKey string) (*models.Principal, error)
	RecordFailedAttemptFunc   func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetFailedAttemptsFunc   func(ctx context.Context, id string) error
	UpdateLastLoginFunc       func(ctx context.Context, id string, at time.Time) error
	UpdatePasswordFunc        func(ctx context.Context, id, passwordHash string) error
	SetSecondFactorFunc       func(ctx context.Context, id string, secret *string, enabled bool, codeHashes []string) error
	ListActiveBackupCodesFunc func(ctx context.Context, principalID string) ([]models.BackupCode, error)
	ConsumeBackupCodeFunc     func(ctx context.Context, codeID string) error
}

func (m *MockPrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) GetByLoginKey(ctx context.Context, loginKey string) (*models.Principal, error) {
	if m.GetByLoginKeyFunc != nil {
		return m.GetByLoginKeyFunc(ctx, loginKey)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	if m.RecordFailedAttemptFunc != nil {
		return m.RecordFailedAttemptFunc(ctx, id, threshold, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockPrincipalRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, id)
	}
	return nil
}

func (m *MockPrincipalRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockPrincipalRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockPrincipalRepository) SetSecondFactor(ctx context.Context, id string, secret *string, enabled bool, codeHashes []string) error {
	if m.SetSecondFactorFunc != nil {
		return m.SetSecondFactorFunc(ctx, id, secret, enabled, codeHashes)
	}
	return nil
}

func (m *MockPrincipalRepository) ListActiveBackupCodes(ctx context.Context, principalID string) ([]models.BackupCode, error) {
	if m.ListActiveBackupCodesFunc != nil {
		return m.ListActiveBackupCodesFunc(ctx, principalID)
	}
	return []models.BackupCode{}, nil
}

func (m *MockPrincipalRepository) ConsumeBackupCode(ctx context.Context, codeID string) error {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, codeID)
	}
	return nil
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	SendAccountLockedFunc func(ctx context.Context, email string, until time.Time) error
	SendPasswordResetFunc func(ctx context.Context, email, token string, expiresIn time.Duration) error
}

func (m *MockNotifier) SendAccountLocked(ctx context.Context, email string, until time.Time) error {
	if m.SendAccountLockedFunc != nil {
		return m.SendAccountLockedFunc(ctx, email, until)
	}
	return nil
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, email, token string, expiresIn time.Duration) error {
	if m.SendPasswordResetFunc != nil {
		return m.SendPasswordResetFunc(ctx, email, token, expiresIn)
	}
	return nil
}

// MockSecondFactorVerifier implements SecondFactorVerifier for testing
type MockSecondFactorVerifier struct {
	VerifyTimeBasedCodeFunc func(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error
	VerifyBackupCodeFunc    func(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error
}

func (m *MockSecondFactorVerifier) VerifyTimeBasedCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error {
	if m.VerifyTimeBasedCodeFunc != nil {
		return m.VerifyTimeBasedCodeFunc(ctx, principal, code, meta)
	}
	return nil
}

func (m *MockSecondFactorVerifier) VerifyBackupCode(ctx context.Context, principal *models.Principal, code string, meta models.RequestMeta) error {
	if m.VerifyBackupCodeFunc != nil {
		return m.VerifyBackupCodeFunc(ctx, principal, code, meta)
	}
	return nil
}
