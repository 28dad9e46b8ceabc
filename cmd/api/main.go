package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/vigil/internal/auth"
	"github.com/BradenHooton/vigil/internal/config"
	"github.com/BradenHooton/vigil/internal/database"
	"github.com/BradenHooton/vigil/internal/handlers"
	"github.com/BradenHooton/vigil/internal/ledger"
	"github.com/BradenHooton/vigil/internal/metrics"
	middlewareCustom "github.com/BradenHooton/vigil/internal/middleware"
	"github.com/BradenHooton/vigil/internal/models"
	"github.com/BradenHooton/vigil/internal/repositories"
	"github.com/BradenHooton/vigil/internal/risk"
	"github.com/BradenHooton/vigil/internal/routes"
	"github.com/BradenHooton/vigil/internal/services"
	pkgauth "github.com/BradenHooton/vigil/pkg/auth"
	pkghttp "github.com/BradenHooton/vigil/pkg/http"
	pkglogger "github.com/BradenHooton/vigil/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	principalRepo := repositories.NewPrincipalRepository(db)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.ContinuationExpiry,
		cfg.Auth.ResetTokenExpiry,
	)

	// Security event ledger and metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	auditLogger := pkglogger.NewAuditLogger(logger)
	eventLedger := ledger.New(cfg.Risk.LedgerCap, logger)

	// IP reputation cache: redis when configured, in-memory otherwise
	var reputationCache risk.ReputationCache
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		reputationCache = risk.NewRedisReputationCache(client, cfg.Cache.IPReputationTTL, logger)
		logger.Info("using redis ip reputation cache", slog.String("addr", cfg.Cache.RedisAddr))
	} else {
		reputationCache = risk.NewMemoryReputationCache(cfg.Cache.IPReputationTTL)
	}

	// Risk engine
	riskEngine := risk.NewEngine(principalRepo, eventLedger, reputationCache, cfg.Risk, auditLogger, m, logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	// Notification sender
	var notifier services.Notifier
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewAWSSESNotifier(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.BaseURL,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = services.NewNoopNotifier(logger)
	}

	// TOTP manager for second factor enrollment and verification
	totpManager := auth.NewTOTPManager("vigil", cfg.Auth.TOTPSkewSteps)

	// Initialize services
	secondFactorService := services.NewSecondFactorService(principalRepo, totpManager, eventLedger, cfg.Auth.BackupCodeCount, logger)
	authService := services.NewAuthService(principalRepo, tokenManager, timingDelay, eventLedger, secondFactorService, notifier, cfg.Auth, logger, auditLogger, m)
	resetService := services.NewResetService(principalRepo, tokenManager, eventLedger, notifier, cfg.Auth.ResetTokenExpiry, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, resetService, ipConfig)
	secondFactorHandler := handlers.NewSecondFactorHandler(secondFactorService, ipConfig)
	riskHandler := handlers.NewRiskHandler(riskEngine, eventLedger)

	// Bootstrap first operator if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureOperator(ctx, principalRepo, logger); err != nil {
		logger.Error("failed to ensure operator", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, secondFactorHandler, riskHandler, tokenManager, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureOperator creates the first operator principal if OPERATOR_EMAIL and
// OPERATOR_PASSWORD are set
func ensureOperator(ctx context.Context, principalRepo *repositories.PrincipalRepository, logger *slog.Logger) error {
	operatorEmail := os.Getenv("OPERATOR_EMAIL")
	operatorPassword := os.Getenv("OPERATOR_PASSWORD")

	if operatorEmail == "" || operatorPassword == "" {
		logger.Info("no OPERATOR_EMAIL or OPERATOR_PASSWORD set, skipping operator creation")
		return nil
	}

	_, err := principalRepo.GetByLoginKey(ctx, operatorEmail)
	if err == nil {
		logger.Info("operator already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if operator exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(operatorPassword)
	if err != nil {
		return fmt.Errorf("failed to hash operator password: %w", err)
	}

	operator := &models.Principal{
		Email:        operatorEmail,
		PasswordHash: hashedPassword,
		Kind:         models.KindOperator,
		Active:       true,
	}

	if _, err := principalRepo.Create(ctx, operator); err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}

	logger.Info("operator created successfully")
	return nil
}
