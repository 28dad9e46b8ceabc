package models

import "time"

// EventType enumerates every security event kind the ledger records.
type EventType string

const (
	EventLoginSuccess           EventType = "login_success"
	EventLoginFailed            EventType = "login_failed"
	EventSecondFactorEnabled    EventType = "second_factor_enabled"
	EventSecondFactorDisabled   EventType = "second_factor_disabled"
	EventSecondFactorFailed     EventType = "second_factor_failed"
	EventAccountLocked          EventType = "account_locked"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
	EventSuspiciousActivity     EventType = "suspicious_activity"
	EventSensitiveAction        EventType = "sensitive_action"
)

// SecurityEvent is one entry in a principal's bounded audit trail. Events are
// appended only and never mutated after creation.
type SecurityEvent struct {
	ID                string
	PrincipalID       string
	Type              EventType
	Timestamp         time.Time
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Location          *GeoPoint
	CorrelationID     string
	Detail            EventDetail
}

// EventDetail is a closed set of per-kind payloads. The unexported marker
// keeps the variant set fixed to this package so handlers get compile-time
// coverage when switching on the concrete type.
type EventDetail interface {
	eventDetail()
}

// AuthFailureDetail accompanies login_failed and second_factor_failed events.
type AuthFailureDetail struct {
	Reason  string
	Attempt int // post-increment failed-attempt count, 0 when not applicable
}

// LockDetail accompanies account_locked events.
type LockDetail struct {
	Until    time.Time
	Failures int
}

// SecondFactorDetail accompanies second-factor lifecycle events.
type SecondFactorDetail struct {
	Method string // "totp" or "backup_code"
}

// ActionDetail accompanies sensitive_action events; Amount is zero for
// non-financial actions.
type ActionDetail struct {
	Action string
	Amount float64
}

// SuspiciousActivityDetail accompanies suspicious_activity events persisted
// by the risk engine for assessments at or above the logging threshold.
type SuspiciousActivityDetail struct {
	Action  string
	Score   int
	Level   RiskLevel
	Reasons []string
}

// ResetDetail accompanies password reset events.
type ResetDetail struct {
	TokenID string
}

func (AuthFailureDetail) eventDetail()        {}
func (LockDetail) eventDetail()               {}
func (SecondFactorDetail) eventDetail()       {}
func (ActionDetail) eventDetail()             {}
func (SuspiciousActivityDetail) eventDetail() {}
func (ResetDetail) eventDetail()              {}
