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

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/background"
	"github.com/BradenHooton/lineage-auth/internal/config"
	"github.com/BradenHooton/lineage-auth/internal/database"
	"github.com/BradenHooton/lineage-auth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/lineage-auth/internal/middleware"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/repositories"
	"github.com/BradenHooton/lineage-auth/internal/routes"
	"github.com/BradenHooton/lineage-auth/internal/services"
	"github.com/BradenHooton/lineage-auth/internal/session"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	pkglogger "github.com/BradenHooton/lineage-auth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Initialize database
	db, err := database.NewConnection(startCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(startCtx); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	// Initialize session registry
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	sessions := session.NewRegistry(rdb, session.Config{
		TTL:         cfg.Auth.RefreshTokenTTL,
		MaxSessions: cfg.Auth.MaxConcurrentSessions,
	}, logger)
	if err := sessions.Ping(startCtx); err != nil {
		// Login and refresh degrade without Redis; startup continues
		logger.Warn("session store unreachable at startup", slog.Any("error", err))
	}

	// Initialize token and TOTP managers
	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize TOTP manager: %w", err)
	}

	hasher, err := services.NewHasher(cfg.Auth.HashWorkers, cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)
	actionRepo := repositories.NewActionTokenRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db, cfg.Auth.AuditRetention)

	notifier, err := newNotifier(startCtx, cfg, logger)
	if err != nil {
		return err
	}

	// Initialize services
	auditLogger := pkglogger.NewAuditLoggerWithSink(logger, auditRepo, pkglogger.DefaultSinkConfig)
	lockout := services.NewLockoutPolicy(userRepo, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, logger, auditLogger)
	mfaService := services.NewMFAService(userRepo, totpManager, hasher, lockout, services.MFAConfig{
		BackupCodeCount: cfg.MFA.BackupCodeCount,
		PendingTTL:      cfg.MFA.PendingTTL,
	}, logger, auditLogger)
	authService := services.NewAuthService(userRepo, refreshRepo, sessions, tokenManager, hasher, lockout, mfaService,
		services.AuthOptions{
			RotateRefreshTokens:      cfg.Auth.RotateRefreshTokens,
			RequireEmailVerification: cfg.Auth.RequireEmailVerification,
		}, logger, auditLogger)
	accountService := services.NewAccountService(userRepo, refreshRepo, sessions, actionRepo, notifier, hasher, lockout, tokenManager,
		services.AccountConfig{
			AppBaseURL:           cfg.Server.AppBaseURL,
			PasswordResetTTL:     cfg.Auth.PasswordResetTTL,
			EmailVerificationTTL: cfg.Auth.EmailVerificationTTL,
		}, logger, auditLogger)
	authService.SetVerificationRequester(accountService)
	adminService := services.NewAdminService(userRepo, refreshRepo, sessions, auditRepo, lockout, logger, auditLogger)

	// Bootstrap first admin user if configured
	if err := ensureAdminUser(startCtx, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(map[string]background.Sweeper{
		"refresh_tokens": refreshRepo,
		"action_tokens":  actionRepo,
		"audit_logs":     auditRepo,
	}, logger, cfg.Auth.CleanupInterval)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookies := auth.CookieConfig{Domain: cfg.Server.CookieDomain, Secure: cfg.Server.IsProduction()}

	h := routes.Handlers{
		Auth:    handlers.NewAuthHandler(authService, cookies, ipConfig, logger),
		Account: handlers.NewAccountHandler(accountService, cookies, ipConfig, logger),
		MFA:     handlers.NewMFAHandler(mfaService, ipConfig, logger),
		Admin:   handlers.NewAdminHandler(adminService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.HealthCheck,
			"redis":    sessions.Ping,
		}, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, routes.Config{
		Decoder:       tokenManager,
		Activity:      sessions,
		IPConfig:      ipConfig,
		AuthRateLimit: cfg.Server.AuthRateLimit,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Session count syncs still in flight finish before the pools close
	authService.Drain()
	if err := auditLogger.Close(shutdownCtx); err != nil {
		logger.Warn("audit records still queued at shutdown", slog.Any("error", err))
	}
	return nil
}

// newNotifier selects the mail transport for reset and verification links
func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Notifier, error) {
	if cfg.Email.Provider == "log" {
		logger.Warn("EMAIL_PROVIDER=log: links are written to the log, not mailed")
		return services.NewLogNotifier(logger), nil
	}

	notifier, err := services.NewSESNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email service: %w", err)
	}
	return notifier, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *services.Hasher, logger *slog.Logger) error {
	adminEmail := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := hasher.Hash(ctx, adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = userRepo.Create(ctx, &models.User{
		Email:         adminEmail,
		PasswordHash:  hashedPassword,
		Role:          "admin",
		IsActive:      true,
		EmailVerified: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
