// Package risk scores sensitive actions against a principal's recorded
// history. Six independent signals contribute penalties; the aggregate is
// clamped, classified, and mapped to a recommended response.
package risk

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/BradenHooton/vigil/internal/config"
	"github.com/BradenHooton/vigil/internal/metrics"
	"github.com/BradenHooton/vigil/internal/models"
	"github.com/BradenHooton/vigil/pkg/logger"
)

// Classification thresholds for the aggregate score.
const (
	thresholdLow      = 20
	thresholdMedium   = 40
	thresholdHigh     = 60
	thresholdCritical = 80
)

// PrincipalSource resolves the principal under assessment.
type PrincipalSource interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
}

// EventSource is the slice of the ledger the engine reads and writes.
type EventSource interface {
	Query(ctx context.Context, principalID string, since time.Time, types ...models.EventType) iter.Seq[models.SecurityEvent]
	Append(principalID string, event models.SecurityEvent) models.SecurityEvent
}

type Engine struct {
	principals  PrincipalSource
	events      EventSource
	cache       ReputationCache
	policy      config.RiskConfig
	auditLogger *logger.AuditLogger
	metrics     *metrics.Metrics
	logger      *slog.Logger
	clock       func() time.Time
}

func NewEngine(
	principals PrincipalSource,
	events EventSource,
	cache ReputationCache,
	policy config.RiskConfig,
	auditLogger *logger.AuditLogger,
	m *metrics.Metrics,
	log *slog.Logger,
) *Engine {
	return &Engine{
		principals:  principals,
		events:      events,
		cache:       cache,
		policy:      policy,
		auditLogger: auditLogger,
		metrics:     m,
		logger:      log,
		clock:       time.Now,
	}
}

// SetClock substitutes the time source. Test use only.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Assess scores one action for one principal. It always returns an
// assessment: an unresolvable principal yields the maximal score, and a
// signal that cannot be computed contributes zero rather than failing the
// whole evaluation.
func (e *Engine) Assess(ctx context.Context, principalID, action string, amount float64, meta models.RequestMeta) *models.RiskAssessment {
	now := e.clock()

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		e.logger.Warn("risk assessment for unresolvable principal",
			slog.String("principal_id", principalID),
			slog.String("action", action),
		)
		assessment := e.maximalAssessment(principalID, action, now)
		e.record(assessment)
		return assessment
	}

	history, historyOK := e.collectHistory(ctx, principalID, now)

	signals := make([]models.SignalScore, 0, 6)
	if historyOK {
		signals = append(signals,
			evaluateVelocity(&e.policy, history, action, amount, now),
			evaluateGeo(&e.policy, history, meta.Location, now),
			evaluateDevice(&e.policy, history, meta.DeviceFingerprint, now),
			evaluateBehavior(&e.policy, history, action, now),
		)
	} else {
		signals = append(signals,
			models.SignalScore{Name: "velocity"},
			models.SignalScore{Name: "geography"},
			models.SignalScore{Name: "device"},
			models.SignalScore{Name: "behavior"},
		)
	}
	signals = append(signals,
		e.evaluateNetwork(ctx, meta.IPAddress),
		evaluateTemporal(&e.policy, principal.Kind, now),
	)

	score := 0
	var reasons []string
	for _, sig := range signals {
		score += sig.Score
		reasons = append(reasons, sig.Reasons...)
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	assessment := &models.RiskAssessment{
		PrincipalID: principalID,
		Action:      action,
		Score:       score,
		Level:       classify(score),
		Block:       score >= thresholdCritical,
		Review:      score >= thresholdHigh,
		Recommended: recommend(score),
		Signals:     signals,
		Reasons:     reasons,
		AssessedAt:  now,
	}

	if score >= e.policy.EventLogThreshold {
		e.events.Append(principalID, models.SecurityEvent{
			Type:              models.EventSuspiciousActivity,
			Timestamp:         now,
			IPAddress:         meta.IPAddress,
			UserAgent:         meta.UserAgent,
			DeviceFingerprint: meta.DeviceFingerprint,
			Location:          meta.Location,
			CorrelationID:     meta.CorrelationID,
			Detail: models.SuspiciousActivityDetail{
				Action:  action,
				Score:   score,
				Level:   assessment.Level,
				Reasons: reasons,
			},
		})
	}

	e.record(assessment)
	return assessment
}

// collectHistory snapshots the lookback window once per assessment. A context
// already past its deadline degrades to no history rather than an error.
func (e *Engine) collectHistory(ctx context.Context, principalID string, now time.Time) ([]models.SecurityEvent, bool) {
	lookback := e.policy.DeviceLookback
	if e.policy.GeoLookback > lookback {
		lookback = e.policy.GeoLookback
	}
	if e.policy.BehaviorLookback > lookback {
		lookback = e.policy.BehaviorLookback
	}

	var history []models.SecurityEvent
	for ev := range e.events.Query(ctx, principalID, now.Add(-lookback)) {
		history = append(history, ev)
	}

	if ctx.Err() != nil {
		e.logger.Warn("history collection interrupted, degrading to stateless signals",
			slog.String("principal_id", principalID),
		)
		return nil, false
	}
	return history, true
}

// evaluateNetwork serves the network signal from the reputation cache,
// computing and storing a fresh entry on miss.
func (e *Engine) evaluateNetwork(ctx context.Context, address string) models.SignalScore {
	if entry, ok := e.cache.Lookup(ctx, address); ok {
		e.metrics.ReputationLookup.WithLabelValues("hit").Inc()
		return models.SignalScore{Name: "network", Score: entry.Score, Reasons: entry.Reasons}
	}
	e.metrics.ReputationLookup.WithLabelValues("miss").Inc()

	sig, err := scoreNetwork(&e.policy, address)
	if err != nil {
		e.logger.Warn("network signal unavailable", slog.String("error", err.Error()))
		return models.SignalScore{Name: "network"}
	}

	e.cache.Store(ctx, ReputationEntry{
		Address:  address,
		Score:    sig.Score,
		Reasons:  sig.Reasons,
		CachedAt: e.clock(),
	})
	return sig
}

func (e *Engine) maximalAssessment(principalID, action string, now time.Time) *models.RiskAssessment {
	reasons := []string{"principal could not be resolved"}
	return &models.RiskAssessment{
		PrincipalID: principalID,
		Action:      action,
		Score:       100,
		Level:       models.RiskCritical,
		Block:       true,
		Review:      true,
		Recommended: models.ActionBlockTransaction,
		Reasons:     reasons,
		AssessedAt:  now,
	}
}

func (e *Engine) record(a *models.RiskAssessment) {
	e.metrics.RiskAssessments.WithLabelValues(string(a.Level)).Inc()
	e.metrics.AssessmentScore.Observe(float64(a.Score))
	if a.Block {
		e.metrics.BlockedActions.Inc()
	}
	e.auditLogger.LogRiskDecision(a.PrincipalID, a.Action, a.Score, string(a.Level), a.Block)
}

func classify(score int) models.RiskLevel {
	switch {
	case score < thresholdLow:
		return models.RiskMinimal
	case score < thresholdMedium:
		return models.RiskLow
	case score < thresholdHigh:
		return models.RiskMedium
	case score < thresholdCritical:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func recommend(score int) models.RecommendedAction {
	switch {
	case score >= thresholdCritical:
		return models.ActionBlockTransaction
	case score >= thresholdHigh:
		return models.ActionRequireVerify
	case score >= thresholdMedium:
		return models.ActionFlagForReview
	case score >= thresholdLow:
		return models.ActionMonitorClosely
	default:
		return models.ActionAllow
	}
}
