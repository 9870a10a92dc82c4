package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

var (
	ErrInvalidConfig    = errors.New("validate config")
	errParseEnvironment = errors.New("parse environment")
)

type Config struct {
	AppEnv   string `env:"APP_ENV,default=development"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	HTTPAddr              string        `env:"HTTP_ADDR,default=:8080"`
	HTTPReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	HTTPRateLimitRPM      int           `env:"HTTP_RATE_LIMIT_RPM,default=300"`
	CORSAllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`

	DBDriver    string `env:"DB_DRIVER,default=postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=session_guard"`

	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=auth.security"`

	JWTIssuer       string        `env:"JWT_ISSUER,default=session-guard"`
	JWTAudience     string        `env:"JWT_AUDIENCE,default=session-guard-clients"`
	JWTAccessSecret string        `env:"JWT_ACCESS_SECRET"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL,default=15m"`

	RefreshTokenPepper string `env:"REFRESH_TOKEN_PEPPER"`
	BcryptCost         int    `env:"BCRYPT_COST,default=12"`

	CookieSecure      bool          `env:"COOKIE_SECURE,default=true"`
	CookieDomain      string        `env:"COOKIE_DOMAIN"`
	RefreshCookieName string        `env:"REFRESH_COOKIE_NAME,default=refresh_token"`
	RefreshCookiePath string        `env:"REFRESH_COOKIE_PATH,default=/api/v1/auth/refresh"`
	DeviceCookieName  string        `env:"DEVICE_COOKIE_NAME,default=device_accounts"`
	DeviceCookieTTL   time.Duration `env:"DEVICE_COOKIE_TTL,default=8760h"`

	LoginFailureBudget   int           `env:"LOGIN_FAILURE_BUDGET,default=10"`
	RefreshFailureBudget int           `env:"REFRESH_FAILURE_BUDGET,default=30"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW,default=15m"`
	LockoutThreshold     int           `env:"LOCKOUT_THRESHOLD,default=10"`

	ReauthThresholdDays             int           `env:"REAUTH_THRESHOLD_DAYS,default=30"`
	SessionInactivityWindow         time.Duration `env:"SESSION_INACTIVITY_WINDOW,default=72h"`
	SessionReactivationMinRemaining time.Duration `env:"SESSION_REACTIVATION_MIN_REMAINING,default=24h"`
	MFAStaleAfterHigh               time.Duration `env:"MFA_STALE_AFTER_HIGH,default=168h"`
	MFAStaleAfterMedium             time.Duration `env:"MFA_STALE_AFTER_MEDIUM,default=720h"`

	RotationTxTimeout       time.Duration `env:"ROTATION_TX_TIMEOUT,default=5s"`
	BenignRetryWindow       time.Duration `env:"BENIGN_RETRY_WINDOW,default=100ms"`
	IdempotencyLockTTL      time.Duration `env:"IDEMPOTENCY_LOCK_TTL,default=5s"`
	IdempotencyResultTTL    time.Duration `env:"IDEMPOTENCY_RESULT_TTL,default=30s"`
	IdempotencyPollInterval time.Duration `env:"IDEMPOTENCY_POLL_INTERVAL,default=100ms"`
	IdempotencyWaitTimeout  time.Duration `env:"IDEMPOTENCY_WAIT_TIMEOUT,default=5s"`
	LookupMissTTL           time.Duration `env:"LOOKUP_MISS_TTL,default=30s"`
	ReadinessTimeout        time.Duration `env:"READINESS_TIMEOUT,default=2s"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME,default=session-guard"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT,default=development"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT,default=localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE,default=true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED,default=false"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED,default=false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED,default=false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL,default=15s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO,default=1.0"`
}

// Load reads an optional .env file, then the process environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()
	return loadWith(ctx, envconfig.OsLookuper())
}

func loadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		err = fmt.Errorf("%w: %w", errParseEnvironment, err)
		recordConfigLoad(ctx, "", err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		recordConfigLoad(ctx, cfg.AppEnv, err)
		return nil, err
	}
	recordConfigLoad(ctx, cfg.AppEnv, nil)
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, msg))
		}
	}

	switch strings.ToLower(c.DBDriver) {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("%w: DB_DRIVER %q is not supported", ErrInvalidConfig, c.DBDriver))
	}
	require(strings.TrimSpace(c.DatabaseURL) != "", "DATABASE_URL is required")
	require(len(c.JWTAccessSecret) >= 32, "JWT_ACCESS_SECRET must be at least 32 characters")
	require(len(c.RefreshTokenPepper) >= 16, "REFRESH_TOKEN_PEPPER must be at least 16 characters")
	require(c.AccessTokenTTL > 0, "JWT_ACCESS_TTL must be positive")
	require(strings.HasPrefix(c.RefreshCookiePath, "/"), "REFRESH_COOKIE_PATH must be absolute")
	require(c.RefreshCookieName != "" && c.DeviceCookieName != "", "cookie names are required")
	require(c.LoginFailureBudget > 0 && c.RefreshFailureBudget > 0, "failure budgets must be positive")
	require(c.RateLimitWindow > 0, "RATE_LIMIT_WINDOW must be positive")
	require(c.LockoutThreshold > 0, "LOCKOUT_THRESHOLD must be positive")
	require(c.ReauthThresholdDays > 0, "REAUTH_THRESHOLD_DAYS must be positive")
	require(c.RotationTxTimeout > 0, "ROTATION_TX_TIMEOUT must be positive")
	require(c.IdempotencyPollInterval > 0 && c.IdempotencyWaitTimeout >= c.IdempotencyPollInterval,
		"IDEMPOTENCY_WAIT_TIMEOUT must be at least IDEMPOTENCY_POLL_INTERVAL")
	require(c.IdempotencyLockTTL > 0 && c.IdempotencyResultTTL > 0, "idempotency ttls must be positive")
	require(c.OTELTraceSamplingRatio >= 0 && c.OTELTraceSamplingRatio <= 1, "OTEL_TRACE_SAMPLING_RATIO must be within [0,1]")
	if c.IsProduction() {
		require(c.CookieSecure, "COOKIE_SECURE must be true in production")
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return normalizeConfigProfile(c.AppEnv) == "production"
}

func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

func (c *Config) NATSEnabled() bool {
	return strings.TrimSpace(c.NATSURL) != ""
}
