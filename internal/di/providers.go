package di

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/session-guard/internal/app"
	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/health"
	"github.com/sandeepkv93/session-guard/internal/http/handler"
	"github.com/sandeepkv93/session-guard/internal/http/router"
	"github.com/sandeepkv93/session-guard/internal/policy"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
	"github.com/sandeepkv93/session-guard/internal/service"
)

var RepositorySet = wire.NewSet(
	provideDB,
	repository.NewOrganisationRepository,
	repository.NewUserRepository,
	repository.NewDeviceRepository,
	repository.NewSessionRepository,
	repository.NewRefreshTokenRepository,
	repository.NewAuditRepository,
)

var ServiceSet = wire.NewSet(
	provideRedis,
	provideEventPublisher,
	provideJWTManager,
	providePasswordHasher,
	provideTokenService,
	provideSecurityNotifier,
	provideIncidentResponder,
	provideMFAPolicy,
	provideRateLimiter,
	provideIdempotencyCoordinator,
	provideLookupMissCache,
	provideAuditSink,
	provideSecondFactorVerifier,
	provideAuthService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
)

var HTTPSet = wire.NewSet(
	provideCookieSettings,
	handler.NewAuthHandler,
	provideReadiness,
	provideRouter,
	provideHTTPServer,
	app.New,
)

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	level := logger.Warn
	if cfg.LogLevel == "debug" {
		level = logger.Info
	}
	db, err := repository.Open(cfg.DBDriver, cfg.DatabaseURL, level)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := repository.Migrate(db); err != nil {
		cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}

// provideRedis returns a nil client when Redis is not configured; every
// consumer then falls back to its in-process implementation. An unreachable
// but configured Redis is kept; the Redis-backed stores fail open per call,
// and readiness reports it as unhealthy.
func provideRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) (redis.UniversalClient, func(), error) {
	if !cfg.RedisEnabled() {
		log.Info("redis not configured, using in-process rate limiting and no idempotency coordinator")
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		log.WarnContext(ctx, "redis unreachable at startup, continuing fail-open", "addr", cfg.RedisAddr, "error", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func provideEventPublisher(cfg *config.Config, log *slog.Logger) (service.EventPublisher, func(), error) {
	if !cfg.NATSEnabled() {
		log.Info("nats not configured, security notifications are logged only")
		return nil, func() {}, nil
	}
	pub, err := service.NewJetStreamPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, repo repository.RefreshTokenRepository) *service.TokenService {
	return service.NewTokenService(jwtMgr, repo, cfg.RefreshTokenPepper, cfg.AccessTokenTTL, cfg.RotationTxTimeout)
}

func provideSecurityNotifier(cfg *config.Config, publisher service.EventPublisher) service.SecurityNotifier {
	if publisher == nil {
		return service.LogSecurityNotifier{}
	}
	return service.MultiSecurityNotifier{
		service.LogSecurityNotifier{},
		service.NewNATSSecurityNotifier(publisher, cfg.NATSSubjectPrefix),
	}
}

func provideIncidentResponder(cfg *config.Config, tokens *service.TokenService, sessions repository.SessionRepository, notifier service.SecurityNotifier) *service.IncidentResponder {
	return service.NewIncidentResponder(tokens, sessions, notifier, cfg.BenignRetryWindow)
}

func provideMFAPolicy(ctx context.Context, cfg *config.Config) (*policy.MFAPolicy, error) {
	return policy.NewMFAPolicy(ctx, policy.MFAThresholds{
		StaleAfterHigh:   cfg.MFAStaleAfterHigh,
		StaleAfterMedium: cfg.MFAStaleAfterMedium,
	})
}

func provideRateLimiter(cfg *config.Config, client redis.UniversalClient) service.AuthRateLimiter {
	p := service.RateLimitPolicy{
		Budgets: map[service.RateLimitScope]int{
			service.RateLimitScopeLogin:   cfg.LoginFailureBudget,
			service.RateLimitScopeRefresh: cfg.RefreshFailureBudget,
		},
		Window: cfg.RateLimitWindow,
	}
	if client == nil {
		return service.NewLocalRateLimiter(p)
	}
	return service.NewRedisRateLimiter(client, cfg.RedisKeyPrefix+":ratelimit", p)
}

func provideIdempotencyCoordinator(cfg *config.Config, client redis.UniversalClient) service.IdempotencyCoordinator {
	if client == nil {
		return service.NewNoopIdempotencyCoordinator()
	}
	return service.NewRedisIdempotencyCoordinator(client, cfg.RedisKeyPrefix+":idem", cfg.IdempotencyLockTTL, cfg.IdempotencyResultTTL)
}

func provideLookupMissCache(cfg *config.Config, client redis.UniversalClient) service.LookupMissCache {
	if client == nil {
		return service.NewInMemoryLookupMissCache()
	}
	return service.NewRedisLookupMissCache(client, cfg.RedisKeyPrefix+":miss")
}

func provideAuditSink(repo repository.AuditRepository) service.AuditSink {
	return service.NewRepositoryAuditSink(repo)
}

// provideSecondFactorVerifier is the seam for one-time code checking. Code
// generation and delivery live outside this service; until a verifier is
// bound here every MFA challenge is rejected.
func provideSecondFactorVerifier(log *slog.Logger) service.SecondFactorVerifier {
	log.Warn("no second factor verifier bound, logins that require mfa will be rejected")
	return service.RejectingSecondFactorVerifier{}
}

func provideAuthService(
	cfg *config.Config,
	orgs repository.OrganisationRepository,
	users repository.UserRepository,
	devices repository.DeviceRepository,
	sessions repository.SessionRepository,
	tokens *service.TokenService,
	responder *service.IncidentResponder,
	hasher *security.PasswordHasher,
	mfa *policy.MFAPolicy,
	limiter service.AuthRateLimiter,
	coordinator service.IdempotencyCoordinator,
	misses service.LookupMissCache,
	audit service.AuditSink,
	secondFactor service.SecondFactorVerifier,
	notifier service.SecurityNotifier,
) *service.AuthService {
	return service.NewAuthService(service.AuthServiceDeps{
		Organisations: orgs,
		Users:         users,
		Devices:       devices,
		Sessions:      sessions,
		Tokens:        tokens,
		Responder:     responder,
		Lifetime:      service.NewSessionLifetimeCalculator(cfg.ReauthThresholdDays),
		Passwords:     hasher,
		SecondFactor:  secondFactor,
		MFAPolicy:     mfa,
		RateLimiter:   limiter,
		Coordinator:   coordinator,
		LookupMisses:  misses,
		Audit:         audit,
		Notifier:      notifier,
	}, service.AuthServiceConfig{
		LockoutThreshold:                cfg.LockoutThreshold,
		SessionInactivityWindow:         cfg.SessionInactivityWindow,
		SessionReactivationMinRemaining: cfg.SessionReactivationMinRemaining,
		IdempotencyPollInterval:         cfg.IdempotencyPollInterval,
		IdempotencyWaitTimeout:          cfg.IdempotencyWaitTimeout,
		LookupMissTTL:                   cfg.LookupMissTTL,
	})
}

func provideCookieSettings(cfg *config.Config) security.CookieSettings {
	return security.CookieSettings{
		RefreshName: cfg.RefreshCookieName,
		RefreshPath: cfg.RefreshCookiePath,
		DeviceName:  cfg.DeviceCookieName,
		DeviceTTL:   cfg.DeviceCookieTTL,
		Domain:      cfg.CookieDomain,
		Secure:      cfg.CookieSecure,
	}
}

func provideReadiness(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(cfg.ReadinessTimeout, checkers...)
}

func provideRouter(cfg *config.Config, authHandler *handler.AuthHandler, readiness *health.ProbeRunner) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		Readiness:        readiness,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		AuthRateLimitRPM: cfg.HTTPRateLimitRPM,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
		RefreshPath:      cfg.RefreshCookiePath,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
	}
}
