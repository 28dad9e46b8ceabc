package handlers

import (
	"context"
	"iter"
	"time"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/models"
	"github.com/BradenHooton/vigil/internal/services"
)

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	AuthenticateFunc         func(ctx context.Context, loginKey, password string, meta models.RequestMeta) (*services.AuthResult, error)
	CompleteSecondFactorFunc func(ctx context.Context, continuationToken, code, method string, meta models.RequestMeta) (*services.AuthResult, error)
	IssueSessionFunc         func(principal *models.Principal) (string, error)
}

func (m *MockAuthService) Authenticate(ctx context.Context, loginKey, password string, meta models.RequestMeta) (*services.AuthResult, error) {
	return m.AuthenticateFunc(ctx, loginKey, password, meta)
}

func (m *MockAuthService) CompleteSecondFactor(ctx context.Context, continuationToken, code, method string, meta models.RequestMeta) (*services.AuthResult, error) {
	return m.CompleteSecondFactorFunc(ctx, continuationToken, code, method, meta)
}

func (m *MockAuthService) IssueSession(principal *models.Principal) (string, error) {
	if m.IssueSessionFunc != nil {
		return m.IssueSessionFunc(principal)
	}
	return "test-session-token", nil
}

// MockResetService implements ResetServiceInterface for testing
type MockResetService struct {
	RequestPasswordResetFunc  func(ctx context.Context, loginKey string, meta models.RequestMeta) error
	CompletePasswordResetFunc func(ctx context.Context, token, newPassword string, meta models.RequestMeta) error
}

func (m *MockResetService) RequestPasswordReset(ctx context.Context, loginKey string, meta models.RequestMeta) error {
	return m.RequestPasswordResetFunc(ctx, loginKey, meta)
}

func (m *MockResetService) CompletePasswordReset(ctx context.Context, token, newPassword string, meta models.RequestMeta) error {
	return m.CompletePasswordResetFunc(ctx, token, newPassword, meta)
}

// MockSecondFactorService implements SecondFactorServiceInterface for testing
type MockSecondFactorService struct {
	InitiateEnrollmentFunc  func(ctx context.Context, principalID string) (*auth.Enrollment, error)
	EnableSecondFactorFunc  func(ctx context.Context, principalID, secret, candidateCode string, meta models.RequestMeta) ([]string, error)
	DisableSecondFactorFunc func(ctx context.Context, principalID, password, code string, meta models.RequestMeta) error
}

func (m *MockSecondFactorService) InitiateEnrollment(ctx context.Context, principalID string) (*auth.Enrollment, error) {
	return m.InitiateEnrollmentFunc(ctx, principalID)
}

func (m *MockSecondFactorService) EnableSecondFactor(ctx context.Context, principalID, secret, candidateCode string, meta models.RequestMeta) ([]string, error) {
	return m.EnableSecondFactorFunc(ctx, principalID, secret, candidateCode, meta)
}

func (m *MockSecondFactorService) DisableSecondFactor(ctx context.Context, principalID, password, code string, meta models.RequestMeta) error {
	return m.DisableSecondFactorFunc(ctx, principalID, password, code, meta)
}

// MockRiskAssessor implements RiskAssessor for testing
type MockRiskAssessor struct {
	AssessFunc func(ctx context.Context, principalID, action string, amount float64, meta models.RequestMeta) *models.RiskAssessment
}

func (m *MockRiskAssessor) Assess(ctx context.Context, principalID, action string, amount float64, meta models.RequestMeta) *models.RiskAssessment {
	return m.AssessFunc(ctx, principalID, action, amount, meta)
}

// MockEventQuerier implements EventQuerier for testing
type MockEventQuerier struct {
	QueryFunc func(ctx context.Context, principalID string, since time.Time, types ...models.EventType) iter.Seq[models.SecurityEvent]
}

func (m *MockEventQuerier) Query(ctx context.Context, principalID string, since time.Time, types ...models.EventType) iter.Seq[models.SecurityEvent] {
	return m.QueryFunc(ctx, principalID, since, types...)
}
