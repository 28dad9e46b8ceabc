package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/vigil/internal/ledger"
	"github.com/BradenHooton/vigil/internal/metrics"
	"github.com/BradenHooton/vigil/internal/models"
	"github.com/BradenHooton/vigil/pkg/logger"
)

type mockPrincipalSource struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Principal, error)
}

func (m *mockPrincipalSource) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	return m.GetByIDFunc(ctx, id)
}

func staticPrincipal(kind models.PrincipalKind) *mockPrincipalSource {
	return &mockPrincipalSource{
		GetByIDFunc: func(_ context.Context, id string) (*models.Principal, error) {
			return &models.Principal{ID: id, Email: "owner@example.com", Kind: kind, Active: true}, nil
		},
	}
}

func newTestEngine(principals PrincipalSource, events *ledger.Ledger, now time.Time) (*Engine, *MemoryReputationCache) {
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cache := NewMemoryReputationCache(1 * time.Hour)
	cache.SetClock(func() time.Time { return now })

	engine := NewEngine(
		principals,
		events,
		cache,
		testPolicy(),
		logger.NewAuditLogger(log),
		metrics.New(prometheus.NewRegistry()),
		log,
	)
	engine.SetClock(func() time.Time { return now })
	return engine, cache
}

func newTestLedger() *ledger.Ledger {
	return ledger.New(50, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestAssessNewDeviceAtQuietHour(t *testing.T) {
	now := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), newTestLedger(), now)

	assessment := engine.Assess(context.Background(), "p-1", "login", 0, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: "mac|safari|1440x900|utc",
	})

	assert.Equal(t, penaltyDeviceUnseen+penaltyQuietHours, assessment.Score)
	assert.Equal(t, models.RiskLow, assessment.Level)
	assert.Equal(t, models.ActionMonitorClosely, assessment.Recommended)
	assert.False(t, assessment.Block)
	assert.False(t, assessment.Review)
}

func TestAssessPaymentVelocityAloneRequiresReview(t *testing.T) {
	// Midday, known device, home location, clean public IP: twelve payments
	// totaling $12,500 in the trailing hour must reach review on the two
	// velocity penalties alone.
	now := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	events := newTestLedger()
	fp := "mac|safari|1440x900|utc"
	home := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}

	for i := 0; i < 12; i++ {
		ev := paymentEvent(now.Add(-time.Duration(4+5*i)*time.Minute), 1041.67, fp, &home)
		events.Append("p-1", ev)
	}

	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)

	assessment := engine.Assess(context.Background(), "p-1", "payment", 100, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: fp,
		Location:          &home,
	})

	assert.Equal(t, penaltyVelocityCount+penaltyVelocityAmount, assessment.Score)
	assert.True(t, assessment.Review)
	assert.False(t, assessment.Block)
	assert.Equal(t, models.RiskHigh, assessment.Level)
	assert.Equal(t, models.ActionRequireVerify, assessment.Recommended)
}

func TestAssessPaymentBurstAtQuietHourBlocks(t *testing.T) {
	now := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	events := newTestLedger()
	fp := "mac|safari|1440x900|utc"
	home := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}

	for i := 0; i < 6; i++ {
		ev := paymentEvent(now.Add(-time.Duration(i+25)*time.Minute), 1041.67, fp, &home)
		events.Append("p-1", ev)
	}
	for i := 0; i < 6; i++ {
		ev := paymentEvent(now.Add(-time.Duration(i+1)*30*time.Second), 1041.67, fp, &home)
		events.Append("p-1", ev)
	}

	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)

	assessment := engine.Assess(context.Background(), "p-1", "payment", 100, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: fp,
		Location:          &home,
	})

	// count + amount velocity, rapid repetition, quiet hour
	assert.Equal(t, penaltyVelocityCount+penaltyVelocityAmount+penaltyRapidRepeat+penaltyQuietHours, assessment.Score)
	assert.True(t, assessment.Review)
	assert.True(t, assessment.Block)
	assert.Equal(t, models.RiskCritical, assessment.Level)
	assert.Equal(t, models.ActionBlockTransaction, assessment.Recommended)
}

func TestAssessScoreIncreasesAcrossCountLimit(t *testing.T) {
	// Nine transactions sit under the count limit, eleven sit over it; with
	// every other signal held fixed the aggregate must strictly increase.
	now := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	fp := "mac|safari|1440x900|utc"
	home := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}
	meta := models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: fp,
		Location:          &home,
	}

	scoreFor := func(transactions int) int {
		events := newTestLedger()
		for i := 0; i < transactions; i++ {
			ev := paymentEvent(now.Add(-time.Duration(4+5*i)*time.Minute), 100, fp, &home)
			events.Append("p-1", ev)
		}
		engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)
		return engine.Assess(context.Background(), "p-1", "payment", 100, meta).Score
	}

	nine := scoreFor(9)
	eleven := scoreFor(11)
	assert.Less(t, nine, eleven)
	assert.Equal(t, penaltyVelocityCount, eleven-nine)
}

func TestAssessPersistsSuspiciousActivityEvent(t *testing.T) {
	now := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	events := newTestLedger()
	fp := "mac|safari|1440x900|utc"
	home := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}

	for i := 0; i < 12; i++ {
		events.Append("p-1", paymentEvent(now.Add(-time.Duration(i+1)*20*time.Second), 1041.67, fp, &home))
	}

	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)

	assessment := engine.Assess(context.Background(), "p-1", "payment", 100, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: fp,
		Location:          &home,
		CorrelationID:     "corr-1",
	})
	require.GreaterOrEqual(t, assessment.Score, 40)

	var persisted []models.SecurityEvent
	for ev := range events.Query(context.Background(), "p-1", time.Time{}, models.EventSuspiciousActivity) {
		persisted = append(persisted, ev)
	}
	require.Len(t, persisted, 1)

	detail, ok := persisted[0].Detail.(models.SuspiciousActivityDetail)
	require.True(t, ok)
	assert.Equal(t, "payment", detail.Action)
	assert.Equal(t, assessment.Score, detail.Score)
	assert.Equal(t, "corr-1", persisted[0].CorrelationID)
}

func TestAssessLowScoreNotPersisted(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	events := newTestLedger()
	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)

	assessment := engine.Assess(context.Background(), "p-1", "login", 0, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: "mac|safari|1440x900|utc",
	})

	require.Less(t, assessment.Score, 40)
	assert.Zero(t, events.Count("p-1"))
}

func TestAssessUnknownPrincipalIsMaximal(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	principals := &mockPrincipalSource{
		GetByIDFunc: func(_ context.Context, _ string) (*models.Principal, error) {
			return nil, models.ErrNotFound
		},
	}
	engine, _ := newTestEngine(principals, newTestLedger(), now)

	assessment := engine.Assess(context.Background(), "ghost", "payment", 50, models.RequestMeta{
		IPAddress: "198.51.100.7",
	})

	assert.Equal(t, 100, assessment.Score)
	assert.Equal(t, models.RiskCritical, assessment.Level)
	assert.True(t, assessment.Block)
	assert.True(t, assessment.Review)
	assert.Equal(t, models.ActionBlockTransaction, assessment.Recommended)
}

func TestAssessClampsAggregateScore(t *testing.T) {
	now := time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC) // saturday
	events := newTestLedger()
	homeFP := "mac|safari|1440x900|utc"
	newYork := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}
	losAngeles := models.GeoPoint{Lat: 34.0522, Lon: -118.2437}

	for i := 0; i < 12; i++ {
		events.Append("p-1", paymentEvent(now.Add(-time.Duration(i+1)*20*time.Second), 1100, homeFP, &newYork))
	}

	engine, _ := newTestEngine(staticPrincipal(models.KindBusinessOwner), events, now)
	engine.policy.KnownBadPatterns = []string{"10."}

	assessment := engine.Assess(context.Background(), "p-1", "payment", 5000, models.RequestMeta{
		IPAddress:         "10.0.0.99",
		DeviceFingerprint: "win|chrome|1920x1080|est",
		Location:          &losAngeles,
	})

	assert.Equal(t, 100, assessment.Score)
	assert.Equal(t, models.RiskCritical, assessment.Level)
	assert.True(t, assessment.Block)
}

func TestAssessDegradesWhenContextExpired(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	events := newTestLedger()
	home := models.GeoPoint{Lat: 40.7128, Lon: -74.0060}

	for i := 0; i < 12; i++ {
		events.Append("p-1", paymentEvent(now.Add(-time.Duration(i+1)*20*time.Second), 2000, "old|fp", &home))
	}

	engine, _ := newTestEngine(staticPrincipal(models.KindCustomer), events, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assessment := engine.Assess(ctx, "p-1", "payment", 100, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: "new|fp",
	})

	// history-dependent signals contribute nothing once the context is done
	assert.Zero(t, assessment.Score)
	assert.Equal(t, models.RiskMinimal, assessment.Level)
	assert.Equal(t, models.ActionAllow, assessment.Recommended)
}

func TestAssessStoresNetworkScoreInCache(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	engine, cache := newTestEngine(staticPrincipal(models.KindCustomer), newTestLedger(), now)
	engine.policy.KnownBadPatterns = []string{"203.0.113."}

	engine.Assess(context.Background(), "p-1", "login", 0, models.RequestMeta{
		IPAddress:         "203.0.113.9",
		DeviceFingerprint: "mac|safari|1440x900|utc",
	})

	entry, ok := cache.Lookup(context.Background(), "203.0.113.9")
	require.True(t, ok)
	assert.Equal(t, penaltyKnownBadNetwork, entry.Score)
}

func TestAssessServesNetworkScoreFromCache(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	engine, cache := newTestEngine(staticPrincipal(models.KindCustomer), newTestLedger(), now)

	cache.Store(context.Background(), ReputationEntry{
		Address:  "198.51.100.7",
		Score:    30,
		Reasons:  []string{"seeded"},
		CachedAt: now,
	})

	assessment := engine.Assess(context.Background(), "p-1", "login", 0, models.RequestMeta{
		IPAddress:         "198.51.100.7",
		DeviceFingerprint: "mac|safari|1440x900|utc",
	})

	var network *models.SignalScore
	for i := range assessment.Signals {
		if assessment.Signals[i].Name == "network" {
			network = &assessment.Signals[i]
		}
	}
	require.NotNil(t, network)
	assert.Equal(t, 30, network.Score)
	assert.Equal(t, []string{"seeded"}, network.Reasons)
}

func TestMemoryReputationCacheExpiry(t *testing.T) {
	base := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	current := base
	cache := NewMemoryReputationCache(1 * time.Hour)
	cache.SetClock(func() time.Time { return current })

	cache.Store(context.Background(), ReputationEntry{Address: "198.51.100.7", Score: 5, CachedAt: base})

	_, ok := cache.Lookup(context.Background(), "198.51.100.7")
	assert.True(t, ok)

	current = base.Add(61 * time.Minute)
	_, ok = cache.Lookup(context.Background(), "198.51.100.7")
	assert.False(t, ok)
}

func TestClassifyAndRecommendLadder(t *testing.T) {
	tests := []struct {
		score  int
		level  models.RiskLevel
		action models.RecommendedAction
	}{
		{0, models.RiskMinimal, models.ActionAllow},
		{19, models.RiskMinimal, models.ActionAllow},
		{20, models.RiskLow, models.ActionMonitorClosely},
		{39, models.RiskLow, models.ActionMonitorClosely},
		{40, models.RiskMedium, models.ActionFlagForReview},
		{59, models.RiskMedium, models.ActionFlagForReview},
		{60, models.RiskHigh, models.ActionRequireVerify},
		{79, models.RiskHigh, models.ActionRequireVerify},
		{80, models.RiskCritical, models.ActionBlockTransaction},
		{100, models.RiskCritical, models.ActionBlockTransaction},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.level, classify(tt.score), "score %d", tt.score)
		assert.Equal(t, tt.action, recommend(tt.score), "score %d", tt.score)
	}
}
