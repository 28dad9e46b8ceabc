package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/config"
	"github.com/BradenHooton/vigil/internal/database"
	"github.com/BradenHooton/vigil/internal/handlers"
	"github.com/BradenHooton/vigil/internal/ledger"
	"github.com/BradenHooton/vigil/internal/metrics"
	middlewareCustom "github.com/BradenHooton/vigil/internal/middleware"
	"github.com/BradenHooton/vigil/internal/repositories"
	"github.com/BradenHooton/vigil/internal/risk"
	"github.com/BradenHooton/vigil/internal/routes"
	"github.com/BradenHooton/vigil/internal/services"
	pkghttp "github.com/BradenHooton/vigil/pkg/http"
	pkglogger "github.com/BradenHooton/vigil/pkg/logger"
)

// SentNotification is a captured outbound message
type SentNotification struct {
	To      string
	Subject string
	Body    string
}

// MockNotifier captures notifications for test assertions
type MockNotifier struct {
	Sent []SentNotification
	mu   sync.Mutex
}

func (m *MockNotifier) SendAccountLocked(ctx context.Context, email string, until time.Time) error {
	m.record(email, "Account locked", until.Format(time.RFC3339))
	return nil
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, email, token string, expiresIn time.Duration) error {
	m.record(email, "Password reset", "Reset token: "+token)
	return nil
}

func (m *MockNotifier) record(to, subject, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{To: to, Subject: subject, Body: body})
}

// GetLastNotification returns the most recent message sent
func (m *MockNotifier) GetLastNotification() *SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Notifier *MockNotifier
	Config   *config.Config

	// Dependency references for inspection in tests
	TokenManager *auth.TokenManager
	Ledger       *ledger.Ledger
	Repo         *repositories.PrincipalRepository
}

// NewTestServer initializes a complete HTTP server with a real database and
// a mocked notifier
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:           "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:   15 * time.Minute,
			ContinuationExpiry:  5 * time.Minute,
			LockoutThreshold:    5,
			LockoutDuration:     30 * time.Minute,
			BackupCodeCount:     10,
			TOTPSkewSteps:       2,
			ResetTokenExpiry:    1 * time.Hour,
			TimingDelayBaseMs:   1,
			TimingDelayRandomMs: 1,
		},
		Risk: config.RiskConfig{
			VelocityWindow:        1 * time.Hour,
			VelocityCountLimit:    10,
			VelocityAmountLimit:   10000,
			GeoLookback:           7 * 24 * time.Hour,
			GeoDistanceMiles:      500,
			GeoJumpWindow:         6 * time.Hour,
			DeviceLookback:        30 * 24 * time.Hour,
			BehaviorLookback:      7 * 24 * time.Hour,
			BehaviorHourDeviation: 2,
			RapidRepeatWindow:     5 * time.Minute,
			RapidRepeatLimit:      5,
			QuietHoursStart:       2,
			QuietHoursEnd:         6,
			EventLogThreshold:     40,
			LedgerCap:             50,
		},
		Cache: config.CacheConfig{
			IPReputationTTL: 1 * time.Hour,
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	principalRepo := repositories.NewPrincipalRepository(db)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.ContinuationExpiry,
		cfg.Auth.ResetTokenExpiry,
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	auditLogger := pkglogger.NewAuditLogger(logger)
	eventLedger := ledger.New(cfg.Risk.LedgerCap, logger)
	reputationCache := risk.NewMemoryReputationCache(cfg.Cache.IPReputationTTL)

	riskEngine := risk.NewEngine(principalRepo, eventLedger, reputationCache, cfg.Risk, auditLogger, m, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	notifier := &MockNotifier{}
	totpManager := auth.NewTOTPManager("vigil-test", cfg.Auth.TOTPSkewSteps)

	secondFactorService := services.NewSecondFactorService(principalRepo, totpManager, eventLedger, cfg.Auth.BackupCodeCount, logger)
	authService := services.NewAuthService(principalRepo, tokenManager, timingDelay, eventLedger, secondFactorService, notifier, cfg.Auth, logger, auditLogger, m)
	resetService := services.NewResetService(principalRepo, tokenManager, eventLedger, notifier, cfg.Auth.ResetTokenExpiry, logger)

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, resetService, ipConfig)
	secondFactorHandler := handlers.NewSecondFactorHandler(secondFactorService, ipConfig)
	riskHandler := handlers.NewRiskHandler(riskEngine, eventLedger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, secondFactorHandler, riskHandler, tokenManager, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		Notifier:     notifier,
		Config:       cfg,
		TokenManager: tokenManager,
		Ledger:       eventLedger,
		Repo:         principalRepo,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a session token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
