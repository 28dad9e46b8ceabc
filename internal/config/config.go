package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Risk     RiskConfig
	Email    EmailConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	ContinuationExpiry  time.Duration // lifetime of the 2FA continuation token
	LockoutThreshold    int
	LockoutDuration     time.Duration
	BackupCodeCount     int
	TOTPSkewSteps       uint
	ResetTokenExpiry    time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
}

// RiskConfig holds the scoring policy. The thresholds are deployment policy,
// not protocol; defaults match the values the engine was tuned with.
type RiskConfig struct {
	VelocityWindow        time.Duration
	VelocityCountLimit    int
	VelocityAmountLimit   float64
	GeoLookback           time.Duration
	GeoDistanceMiles      float64
	GeoJumpWindow         time.Duration
	DeviceLookback        time.Duration
	BehaviorLookback      time.Duration
	BehaviorHourDeviation float64
	RapidRepeatWindow     time.Duration
	RapidRepeatLimit      int
	QuietHoursStart       int
	QuietHoursEnd         int
	EventLogThreshold     int // assessments at or above this score become ledger events
	LedgerCap             int
	KnownBadPatterns      []string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	BaseURL     string // prefix for password reset links
	Enabled     bool
}

type CacheConfig struct {
	IPReputationTTL time.Duration
	RedisAddr       string // empty selects the in-memory cache
	RedisPassword   string
	RedisDB         int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "vigil"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			ContinuationExpiry:  getEnvAsDuration("CONTINUATION_TOKEN_EXPIRY", 5*time.Minute),
			LockoutThreshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:     getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			BackupCodeCount:     getEnvAsInt("BACKUP_CODE_COUNT", 10),
			TOTPSkewSteps:       uint(getEnvAsInt("TOTP_SKEW_STEPS", 2)),
			ResetTokenExpiry:    getEnvAsDuration("RESET_TOKEN_EXPIRY", 1*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Risk: RiskConfig{
			VelocityWindow:        getEnvAsDuration("RISK_VELOCITY_WINDOW", 1*time.Hour),
			VelocityCountLimit:    getEnvAsInt("RISK_VELOCITY_COUNT_LIMIT", 10),
			VelocityAmountLimit:   getEnvAsFloat("RISK_VELOCITY_AMOUNT_LIMIT", 10000),
			GeoLookback:           getEnvAsDuration("RISK_GEO_LOOKBACK", 7*24*time.Hour),
			GeoDistanceMiles:      getEnvAsFloat("RISK_GEO_DISTANCE_MILES", 500),
			GeoJumpWindow:         getEnvAsDuration("RISK_GEO_JUMP_WINDOW", 6*time.Hour),
			DeviceLookback:        getEnvAsDuration("RISK_DEVICE_LOOKBACK", 30*24*time.Hour),
			BehaviorLookback:      getEnvAsDuration("RISK_BEHAVIOR_LOOKBACK", 7*24*time.Hour),
			BehaviorHourDeviation: getEnvAsFloat("RISK_BEHAVIOR_HOUR_DEVIATION", 2),
			RapidRepeatWindow:     getEnvAsDuration("RISK_RAPID_REPEAT_WINDOW", 5*time.Minute),
			RapidRepeatLimit:      getEnvAsInt("RISK_RAPID_REPEAT_LIMIT", 5),
			QuietHoursStart:       getEnvAsInt("RISK_QUIET_HOURS_START", 2),
			QuietHoursEnd:         getEnvAsInt("RISK_QUIET_HOURS_END", 6),
			EventLogThreshold:     getEnvAsInt("RISK_EVENT_LOG_THRESHOLD", 40),
			LedgerCap:             getEnvAsInt("LEDGER_CAP", 50),
			KnownBadPatterns:      getEnvAsList("RISK_KNOWN_BAD_PATTERNS"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			BaseURL:     getEnv("EMAIL_BASE_URL", "http://localhost:8080"),
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
		},
		Cache: CacheConfig{
			IPReputationTTL: getEnvAsDuration("IP_REPUTATION_TTL", 1*time.Hour),
			RedisAddr:       getEnv("REDIS_ADDR", ""),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:         getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is true")
	}

	if cfg.Auth.LockoutThreshold < 1 {
		return nil, fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
