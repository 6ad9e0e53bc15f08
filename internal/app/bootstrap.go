package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/unrolled/secure"
	"golang.org/x/crypto/bcrypt"

	"svv-auth/internal/auth"
	"svv-auth/internal/config"
	"svv-auth/internal/db"
	"svv-auth/internal/maintenance"
	"svv-auth/internal/observability"
)

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.AppEnv)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		applied, err := db.RunMigrations(context.Background(), database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.SecretKey, cfg.Algorithm)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	tracker := auth.NewAttemptTracker(cfg.LoginMaxAttempts, cfg.LoginLockout, cfg.LoginTrackerCap)
	authRepo := auth.NewRepository(database)
	authService, err := auth.NewService(authRepo, auth.NewBcryptHasher(bcrypt.DefaultCost), tokens, tracker)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}
	authService.WithAccessTTL(cfg.AccessTokenTTL)

	created, err := authService.BootstrapAdmin(context.Background(), cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Info("admin_user_created", map[string]any{"username": cfg.AdminUsername})
	}

	metrics := observability.NewMetrics(tracker.Len)
	authHandler := auth.NewHandler(authService, logger, metrics, auth.HandlerOptions{
		CookieEnabled: cfg.CookieEnabled,
		CookieName:    cfg.CookieName,
		SecureCookie:  cfg.IsProduction(),
		LockoutKey:    cfg.LoginLockoutKey,
	})
	lockoutHandler := maintenance.NewLockoutHandler(tracker, logger, cfg.CronSecret)

	mux := http.NewServeMux()
	authHandler.Routes(mux)
	lockoutHandler.Routes(mux)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", metrics.Handler())

	headers := secure.New(secure.Options{
		IsDevelopment:      !cfg.IsProduction(),
		ContentTypeNosniff: true,
		FrameDeny:          true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	})

	var handler http.Handler = mux
	handler = headers.Handler(handler)
	handler = observability.MetricsMiddleware(metrics, handler)
	handler = observability.RequestLoggingMiddleware(logger, handler)
	handler = observability.RecoverMiddleware(logger, handler)

	logger.Info("app_ready", map[string]any{
		"env":         cfg.AppEnv,
		"lockout_key": cfg.LoginLockoutKey,
		"tracker_cap": cfg.LoginTrackerCap,
	})

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			logger.Sync()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
