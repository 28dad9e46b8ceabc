// Package metrics exposes Prometheus instrumentation for authentication
// outcomes and risk decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	Lockouts         prometheus.Counter
	SecondFactor     *prometheus.CounterVec
	RiskAssessments  *prometheus.CounterVec
	BlockedActions   prometheus.Counter
	AssessmentScore  prometheus.Histogram
	ReputationLookup *prometheus.CounterVec
}

// New registers all collectors with the given registerer. Pass a fresh
// registry per instance; registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after exceeding the failure threshold.",
		}),
		SecondFactor: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "second_factor_verifications_total",
			Help:      "Second factor verifications by method and outcome.",
		}, []string{"method", "outcome"}),
		RiskAssessments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "risk_assessments_total",
			Help:      "Risk assessments by resulting level.",
		}, []string{"level"}),
		BlockedActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "blocked_actions_total",
			Help:      "Actions blocked by the risk engine.",
		}),
		AssessmentScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "risk_assessment_score",
			Help:      "Distribution of aggregate risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		ReputationLookup: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "ip_reputation_lookups_total",
			Help:      "IP reputation cache lookups by result.",
		}, []string{"result"}),
	}
}
