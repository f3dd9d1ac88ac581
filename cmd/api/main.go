package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/codes"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.NewConnection(connectCtx, &cfg.Database, logger)
	cancelConnect()
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	authorizationRepo := repositories.NewAuthorizationRepository(db)

	checks := map[string]handlers.Pinger{
		"database": handlers.PingFunc(db.HealthCheck),
	}

	// One-time code registry
	codeStore, redisClient, err := newCodeStore(cfg)
	if err != nil {
		logger.Error("failed to initialize code store", slog.Any("error", err))
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	registry := codes.NewRegistry(codeStore, cfg.Codes.TTL, logger)

	// Domain events
	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	// Notification dispatcher
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize notification senders", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenIssuer, cfg.Auth.TokenExpiry)
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	admin := services.AdminIdentity{
		Email:    cfg.Admin.Email,
		Phone:    cfg.Admin.Phone,
		Password: cfg.Admin.Password,
	}

	// Initialize services
	authorizationService := services.NewAuthorizationService(
		authorizationRepo,
		userRepo,
		dispatcher,
		publisher,
		services.AuthorizationConfig{
			Admin:            admin,
			InviteExpiryDays: cfg.Invite.ExpiryDays,
			InviteMaxUses:    cfg.Invite.MaxUses,
		},
		logger,
		auditLogger,
	)
	loginService := services.NewLoginService(
		userRepo,
		authorizationService,
		registry,
		dispatcher,
		tokenManager,
		hasher,
		timingDelay,
		publisher,
		services.LoginConfig{
			Admin:            admin,
			MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
			LockoutDuration:  cfg.Auth.LockoutDuration,
		},
		logger,
		auditLogger,
	)
	adminService := services.NewAdminService(userRepo, logger, auditLogger)

	// Initialize handlers
	ipConfig := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(loginService, authorizationService, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(authorizationService, adminService, logger)
	healthHandler := handlers.NewHealthHandler(checks)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   authHandler,
		AdminHandler:  adminHandler,
		HealthHandler: healthHandler,
		Verifier:      newVerifierChain(cfg, tokenManager, userRepo, logger),
		TokenPrefix:   cfg.External.TokenPrefix,
		PublicLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.AuthRateLimit,
			IPConfig:          ipConfig,
		},
		SessionLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: 120,
			IPConfig:          ipConfig,
		},
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(registry, authorizationService, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newCodeStore picks the one-time code backend. Redis is required when more
// than one API instance serves logins.
func newCodeStore(cfg *config.Config) (codes.Store, *redis.Client, error) {
	switch cfg.Codes.Store {
	case "memory", "":
		return codes.NewMemoryStore(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return codes.NewRedisStore(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown CODE_STORE %q", cfg.Codes.Store)
	}
}

// newPublisher connects to the broker when one is configured. A broker that is
// down at startup degrades to dropping events rather than refusing to serve.
func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func()) {
	if cfg.AMQP.URL == "" {
		return events.NopPublisher{}, func() {}
	}
	amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	if err != nil {
		logger.Warn("event broker unavailable, events will be dropped", slog.Any("error", err))
		return events.NopPublisher{}, func() {}
	}
	return events.NewSafePublisher(amqpPublisher, logger), amqpPublisher.Close
}

func newDispatcher(cfg *config.Config, logger *slog.Logger) (*services.NotificationDispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logSender := services.NewLogSender(logger, cfg.Email.PreviewURL, cfg.Server.Env)

	var email services.EmailSender
	switch cfg.Email.Provider {
	case "ses":
		sender, err := services.NewSESEmailSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress)
		if err != nil {
			return nil, err
		}
		email = sender
	case "smtp":
		email = services.NewSMTPEmailSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUsername, cfg.Email.SMTPPassword, cfg.Email.FromAddress)
	case "log", "":
		email = logSender
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.Email.Provider)
	}

	var sms services.SMSSender
	switch cfg.SMS.Provider {
	case "sns":
		sender, err := services.NewSNSSMSSender(ctx, cfg.SMS.AWSRegion, cfg.SMS.SenderID)
		if err != nil {
			return nil, err
		}
		sms = sender
	case "log", "":
		sms = logSender
	default:
		return nil, fmt.Errorf("unknown SMS_PROVIDER %q", cfg.SMS.Provider)
	}

	logger.Info("notification senders ready",
		slog.String("email_provider", cfg.Email.Provider),
		slog.String("sms_provider", cfg.SMS.Provider))

	return services.NewNotificationDispatcher(email, sms, cfg.Codes.TTL, logger), nil
}

// newVerifierChain orders the token strategies: internal JWTs first, then the
// optional service key, Google ID tokens and remote introspection.
func newVerifierChain(cfg *config.Config, tm *auth.TokenManager, users auth.ActiveUserFinder, logger *slog.Logger) *auth.VerifierChain {
	verifiers := []auth.TokenVerifier{auth.NewInternalJWTVerifier(tm)}
	enabled := []string{"internal"}

	if cfg.External.ServiceKey != "" && cfg.External.TokenPrefix != "" {
		verifiers = append(verifiers, auth.NewServiceKeyVerifier(cfg.External.TokenPrefix, cfg.External.ServiceKey, cfg.External.ServiceRole))
		enabled = append(enabled, "service_key")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	if cfg.External.GoogleClientID != "" {
		verifiers = append(verifiers, auth.NewGoogleIDTokenVerifier(cfg.External.GoogleClientID, users, client))
		enabled = append(enabled, "google")
	}
	if cfg.External.IntrospectionURL != "" {
		verifiers = append(verifiers, auth.NewIntrospectionVerifier(
			cfg.External.IntrospectionURL,
			cfg.External.IntrospectionID,
			cfg.External.IntrospectionToken,
			users,
			client,
		))
		enabled = append(enabled, "introspection")
	}

	logger.Info("token verifiers configured", slog.String("verifiers", strings.Join(enabled, ",")))
	return auth.NewVerifierChain(logger, verifiers...)
}
