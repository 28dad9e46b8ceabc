package models

import "time"

// RiskLevel is the step-function classification of an aggregate score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RecommendedAction is the highest-severity response label whose threshold
// the aggregate score meets.
type RecommendedAction string

const (
	ActionAllow            RecommendedAction = "allow"
	ActionMonitorClosely   RecommendedAction = "monitor_closely"
	ActionFlagForReview    RecommendedAction = "flag_for_review"
	ActionRequireVerify    RecommendedAction = "require_additional_verification"
	ActionBlockTransaction RecommendedAction = "block_transaction"
)

// SignalScore is one evaluator's contribution to an assessment.
type SignalScore struct {
	Name    string
	Score   int
	Reasons []string
}

// RiskAssessment is the transient outcome of scoring one action. It is
// constructed per request and discarded after the caller consumes it; the
// engine persists a suspicious_activity event instead when the score crosses
// the logging threshold.
type RiskAssessment struct {
	PrincipalID string
	Action      string
	Score       int // clamped to [0,100]
	Level       RiskLevel
	Block       bool
	Review      bool
	Recommended RecommendedAction
	Signals     []SignalScore
	Reasons     []string
	AssessedAt  time.Time
}
