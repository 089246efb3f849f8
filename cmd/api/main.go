package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/background"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/config"
	"github.com/quickstack/pos-auth/internal/database"
	"github.com/quickstack/pos-auth/internal/handlers"
	middlewareCustom "github.com/quickstack/pos-auth/internal/middleware"
	"github.com/quickstack/pos-auth/internal/repositories"
	"github.com/quickstack/pos-auth/internal/routes"
	"github.com/quickstack/pos-auth/internal/services"
	pkgauth "github.com/quickstack/pos-auth/pkg/auth"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
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
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := db.Migrate(); err != nil {
			logger.Error("failed to migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	clk := clock.System()
	auditLogger := pkglogger.NewAuditLogger(logger)
	generator := pkgauth.SecureTokenGenerator{}

	// Key material and hashing
	keys, err := auth.LoadKeySet(auth.KeySource{
		PrivateKey:         cfg.JWT.PrivateKey,
		PrivateKeyPath:     cfg.JWT.PrivateKeyPath,
		PublicKey:          cfg.JWT.PublicKey,
		PublicKeyPath:      cfg.JWT.PublicKeyPath,
		PreviousPublicKeys: cfg.JWT.PreviousPublicKeys,
	})
	if err != nil {
		logger.Error("failed to load signing keys", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		Issuer:    cfg.JWT.Issuer,
		TTL:       cfg.JWT.AccessTokenTTL,
		ClockSkew: cfg.JWT.ClockSkew,
	}, keys, clk, logger)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}

	hasher, err := pkgauth.NewHasher(cfg.Password.Hash, cfg.Password.Policy, cfg.Password.Peppers)
	if err != nil {
		logger.Error("failed to initialize password hasher", slog.Any("error", err))
		os.Exit(1)
	}
	if pepper, _ := cfg.Password.Peppers.Lookup(cfg.Password.Peppers.Current()); len(pepper) == 0 {
		logger.Warn("no password pepper configured, hashes are salted only")
	}

	breachChecker := services.NewBreachChecker(services.BreachCheckerConfig{
		Enabled:    cfg.Breach.Enabled,
		BaseURL:    cfg.Breach.BaseURL,
		Timeout:    cfg.Breach.Timeout,
		MaxRetries: cfg.Breach.MaxRetries,
		FailOpen:   cfg.Breach.FailOpen,
	}, nil, logger)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db.Pool)
	refreshRepo := repositories.NewRefreshTokenRepository(db.Pool)
	resetRepo := repositories.NewPasswordResetRepository(db.Pool)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db.Pool)

	// Initialize services
	refreshService := services.NewRefreshTokenService(refreshRepo, generator, cfg.Session.RefreshTokenTTL, clk, logger, auditLogger)
	loginAttemptService := services.NewLoginAttemptService(loginAttemptRepo, services.LockoutConfig{
		Enabled:     cfg.Lockout.Enabled,
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Window:      cfg.Lockout.Window,
		Duration:    cfg.Lockout.Duration,
	}, clk, logger)
	authService := services.NewAuthService(userRepo, hasher, breachChecker, tokenManager, refreshService, loginAttemptService, clk, logger, auditLogger)
	resetService := services.NewPasswordResetService(resetRepo, userRepo, hasher, breachChecker, refreshService, generator, clk, logger, auditLogger)

	var notifier services.ResetNotifier = services.NewLogResetNotifier(logger)
	if cfg.Email.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesService, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.ResetURLBase, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesService
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(
		authService,
		resetService,
		notifier,
		auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:   cfg.Timing.BaseDelayMs,
			RandomDelayMs: cfg.Timing.RandomDelayMs,
		}),
		handlers.AuthHandlerConfig{
			Cookies: auth.CookieConfig{
				Domain: cfg.Session.CookieDomain,
				Secure: cfg.Session.CookieSecure,
			},
			RefreshTTL: cfg.Session.RefreshTokenTTL,
			IPConfig:   ipConfig,
		},
		clk,
		logger,
	)

	// Initialize cleanup manager
	cleanupManager, err := background.NewCleanupManager(cfg.Cleanup.Schedule, []background.CleanupTask{
		{Name: "refresh_tokens", Run: func(ctx context.Context) (int64, error) {
			return refreshService.Cleanup(ctx, cfg.Cleanup.RefreshTokenRetention)
		}},
		{Name: "password_reset_tokens", Run: resetService.Cleanup},
		{Name: "login_attempts", Run: func(ctx context.Context) (int64, error) {
			return loginAttemptService.Cleanup(ctx, cfg.Cleanup.LoginAttemptRetention)
		}},
	}, logger)
	if err != nil {
		logger.Error("failed to schedule cleanup", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, tokenManager, routes.Limits{
		Public:        middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRequestsPerMinute, IPConfig: ipConfig},
		Authenticated: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.UserRequestsPerMinute, IPConfig: ipConfig},
	}, logger)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
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
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	cleanupManager.Start(cleanupCtx)

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
