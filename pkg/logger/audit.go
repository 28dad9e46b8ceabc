package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	PrincipalID   string
	IPAddress     string
	UserAgent     string
	CorrelationID string
	Success       bool
	FailureReason string
}

// AuditLogger provides structured audit logging. Services dual-write: slog
// output here for operators, ledger append for the per-principal trail.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogAuthAttempt logs authentication and second-factor attempts
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", event.PrincipalID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", event.CorrelationID))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogRiskDecision logs the outcome of a risk assessment
func (al *AuditLogger) LogRiskDecision(principalID, action string, score int, level string, blocked bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "risk"),
		slog.String("principal_id", principalID),
		slog.String("action", action),
		slog.Int("score", score),
		slog.String("risk_level", level),
		slog.Bool("blocked", blocked),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	level_ := slog.LevelInfo
	if blocked {
		level_ = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level_, "audit", attrs...)
}

// LogLockout logs an account lockout
func (al *AuditLogger) LogLockout(principalID, ipAddress string, until time.Time, failures int) {
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit",
		slog.String("audit_type", "lockout"),
		slog.String("event_type", "account_locked"),
		slog.String("principal_id", principalID),
		slog.String("ip_address", ipAddress),
		slog.Time("locked_until", until),
		slog.Int("failed_attempts", failures),
	)
}
