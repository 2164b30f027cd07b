package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/background"
	"github.com/BradenHooton/loginguard/internal/config"
	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/geo"
	"github.com/BradenHooton/loginguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/loginguard/internal/middleware"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/notify"
	"github.com/BradenHooton/loginguard/internal/repositories"
	"github.com/BradenHooton/loginguard/internal/routes"
	"github.com/BradenHooton/loginguard/internal/services"
	pkgauth "github.com/BradenHooton/loginguard/pkg/auth"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
	pkglogger "github.com/BradenHooton/loginguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	counterRepo := repositories.NewFailureCounterRepository(db)
	deviceRepo := repositories.NewTrustedDeviceRepository(db)
	challengeRepo := repositories.NewMFAChallengeRepository(db)
	totpRepo := repositories.NewTOTPSecretRepository(db)
	prefsRepo := repositories.NewPreferencesRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	ipConfig, invalid := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	for _, cidr := range invalid {
		logger.Warn("ignoring invalid trusted proxy range", slog.String("cidr", cidr))
	}

	// Geolocation
	geoBackend, closeGeo, err := newGeoBackend(cfg.Geo, logger)
	if err != nil {
		logger.Error("failed to initialize geolocation", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeGeo()
	resolver := geo.NewResolver(geoBackend, cfg.Geo.Timeout, logger)

	// Notifications
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	notifier, closeNotifier, err := newNotifier(startupCtx, cfg, logger)
	startupCancel()
	if err != nil {
		logger.Error("failed to initialize notifier", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeNotifier()

	// Authenticator app support is optional
	var totpManager *auth.TOTPManager
	var totpSecrets services.TOTPSecretRepository
	if cfg.MFA.TOTPEncryptionKey != "" {
		key, err := hex.DecodeString(cfg.MFA.TOTPEncryptionKey)
		if err == nil {
			totpManager, err = auth.NewTOTPManager(key, cfg.MFA.TOTPIssuer)
		}
		if err != nil {
			logger.Error("invalid TOTP_ENCRYPTION_KEY", slog.Any("error", err))
			os.Exit(1)
		}
		totpSecrets = totpRepo
	} else {
		logger.Info("TOTP_ENCRYPTION_KEY not set, authenticator app MFA disabled")
	}

	sessions := auth.NewSessionIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.Issuer)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	// Initialize services
	ledger := services.NewAttemptLedger(attemptRepo, logger)
	lockout := services.NewLockoutService(counterRepo, services.LockoutConfig{
		Threshold:       cfg.Security.LockoutThreshold,
		LockoutDuration: cfg.Security.LockoutDuration,
		Window:          cfg.Security.LockoutWindow,
		Scope:           cfg.Security.LockoutScope,
	}, logger)
	devices := services.NewTrustedDeviceRegistry(deviceRepo, logger)
	mfaService := services.NewMFAService(challengeRepo, totpSecrets, counterRepo, totpManager, notifier, services.MFAConfig{
		CodeTTL:         cfg.MFA.CodeTTL,
		CodeDigits:      cfg.MFA.CodeDigits,
		MaxFailures:     cfg.MFA.MaxFailures,
		LockoutDuration: cfg.MFA.LockoutDuration,
		NotifyTimeout:   cfg.Notify.Timeout,
	}, logger)
	preferences := services.NewPreferencesService(prefsRepo, totpSecrets, logger)
	detector := services.NewSuspiciousActivityDetector(attemptRepo, cfg.Security.SuspiciousLookback, cfg.Security.SuspiciousHistoryLimit, logger)

	loginService := services.NewLoginService(services.LoginDeps{
		Users:       userRepo,
		Sessions:    sessions,
		Geo:         resolver,
		Notifier:    notifier,
		Fingerprint: auth.NewFingerprinter(cfg.Security.FingerprintIncludeIP),
		Timing:      timingDelay,
		Ledger:      ledger,
		Lockout:     lockout,
		Devices:     devices,
		MFA:         mfaService,
		Preferences: preferences,
		Detector:    detector,
		Logger:      logger,
		AuditLogger: auditLogger,
	}, services.LoginConfig{
		NewDeviceLookback: cfg.Security.NewDeviceLookback,
		NotifyTimeout:     cfg.Notify.Timeout,
	})

	// Initialize handlers
	h := routes.Handlers{
		Auth:    handlers.NewAuthHandler(loginService, ipConfig, logger),
		Account: handlers.NewAccountHandler(preferences, devices, ledger, ipConfig, logger, auditLogger),
		MFA:     handlers.NewMFAHandler(mfaService, preferences, userRepo, ipConfig, logger, auditLogger),
	}

	// Seed a verified account for local testing if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSeedUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure seed user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middlewareCustom.Recover(logger))
	router.Use(middleware.Timeout(30 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, h, sessions, ipConfig, routes.Limits{
		Login:         middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginRateLimit},
		Authenticated: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.APIRateLimit},
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy", "database": "up", "pool": db.Stats()})
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
	cleanupManager := background.NewCleanupManager(devices, challengeRepo, counterRepo, background.CleanupConfig{
		Interval:         cfg.Security.SweepInterval,
		CounterRetention: max(cfg.Security.LockoutWindow, cfg.Security.LockoutDuration, cfg.MFA.LockoutDuration),
	}, logger)

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
		return
	}

	logger.Info("server stopped gracefully")
}

// newGeoBackend builds the configured lookup backend. A nil backend means
// every login resolves to no location.
func newGeoBackend(cfg config.GeoConfig, logger *slog.Logger) (geo.Backend, func(), error) {
	switch cfg.Provider {
	case config.GeoProviderMaxMind:
		b, err := geo.OpenMaxMind(cfg.CityDBPath, cfg.ASNDBPath, cfg.AnonymousDBPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("geolocation enabled", slog.String("provider", cfg.Provider))
		return b, b.Close, nil
	case config.GeoProviderHTTP:
		logger.Info("geolocation enabled", slog.String("provider", cfg.Provider))
		return geo.NewHTTPBackend(cfg.HTTPBaseURL, cfg.HTTPRetryMax, cfg.Timeout, logger), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

// newNotifier builds the configured delivery channel for codes and alerts
func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.Notifier, func(), error) {
	switch cfg.Notify.Sender {
	case config.NotifierSES:
		s, err := notify.NewSESSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.NotifierKafka:
		k := notify.NewKafkaSender(logger, cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		return k, k.Close, nil
	default:
		return notify.NewLogSender(logger), func() {}, nil
	}
}

// ensureSeedUser creates a verified account if SEED_USER_EMAIL and SEED_USER_PASSWORD are set
func ensureSeedUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("SEED_USER_EMAIL")))
	password := os.Getenv("SEED_USER_PASSWORD")

	if email == "" || password == "" {
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("seed user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if seed user exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("seed user password rejected: %w", err)
	}
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash seed user password: %w", err)
	}

	now := time.Now()
	_, err = userRepo.Create(ctx, &models.User{
		Email:           email,
		Name:            "Seed User",
		PasswordHash:    hashedPassword,
		EmailVerifiedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to create seed user: %w", err)
	}

	logger.Info("seed user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}
