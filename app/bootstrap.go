package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"expense-tracker/internal/auth"
	"expense-tracker/internal/db"
	"expense-tracker/internal/ledger"
	"expense-tracker/internal/maintenance"
	"expense-tracker/internal/observability"
	"expense-tracker/internal/session"
	"expense-tracker/internal/totp"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// StartSweeper runs the lockout sweeper in the background. Serverless
	// deployments leave it off and call the maintenance endpoint instead.
	StartSweeper bool
	Logger       *observability.Logger
}

type Runtime struct {
	Handler http.Handler
	Config  Config
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(cfg, options)
}

func BuildWithConfig(cfg Config, options Options) (*Runtime, error) {
	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	sessions, err := session.NewService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	if cfg.TelegramToken == "" {
		logger.Warn("telegram_token_missing", map[string]any{"effect": "launch data is never trusted"})
	}
	validator := totp.NewValidator(cfg.TOTPSecret)
	if err := validator.SecretError(); err != nil {
		logger.Warn("totp_secret_unusable", map[string]any{"error": err.Error(), "effect": "logins fail until ADMIN_TOTP_SECRET is fixed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.Open(ctx, db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
	})
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database, cfg.DBDriver); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	attempts, redisClient, err := newAttemptStore(ctx, cfg.RedisURL)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	if redisClient != nil {
		logger.Info("lockout_store_selected", map[string]any{"store": "redis"})
	} else {
		logger.Info("lockout_store_selected", map[string]any{"store": "memory"})
	}

	limiter := auth.NewLoginRateLimiter(attempts, cfg.LoginMaxAttempts, cfg.LoginLock).WithLogger(logger)
	if options.StartSweeper {
		limiter.StartSweeper(cfg.LockoutSweep)
	}

	gate := auth.NewAccessGate(auth.NewRepository(database), cfg.BotAccessToken)
	authService := auth.NewService(gate, limiter, validator, sessions, cfg.TelegramToken).
		WithTelegramOnly(cfg.TelegramOnly).
		WithLogger(logger)
	authHandler := auth.NewHandler(authService)
	telegramThrottle := auth.NewRequestThrottle(6*time.Second, 10)

	ledgerHandler := ledger.NewHandler(ledger.NewRepository(database))
	cleanupHandler := maintenance.NewCleanupHandler(limiter, logger, cfg.CronSecret)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(authService, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/telegram", telegramThrottle.Middleware(http.HandlerFunc(authHandler.Telegram)))
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.Handle("GET /auth/session", protected(authHandler.Session))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.Handle("GET /accounts", protected(ledgerHandler.ListAccounts))
	mux.Handle("POST /accounts", protected(ledgerHandler.CreateAccount))
	mux.Handle("PUT /accounts/{id}", protected(ledgerHandler.UpdateAccount))
	mux.Handle("DELETE /accounts/{id}", protected(ledgerHandler.DeleteAccount))
	mux.Handle("GET /categories", protected(ledgerHandler.ListCategories))
	mux.Handle("POST /categories", protected(ledgerHandler.CreateCategory))
	mux.Handle("DELETE /categories/{id}", protected(ledgerHandler.DeleteCategory))
	mux.Handle("GET /transactions", protected(ledgerHandler.ListTransactions))
	mux.Handle("POST /transactions", protected(ledgerHandler.CreateTransaction))
	mux.Handle("PUT /transactions/{id}", protected(ledgerHandler.UpdateTransaction))
	mux.Handle("DELETE /transactions/{id}", protected(ledgerHandler.DeleteTransaction))

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", auth.InitDataHeader, observability.RequestIDHeader},
		ExposedHeaders: []string{auth.NewTokenHeader, "Retry-After", observability.RequestIDHeader},
		MaxAge:         300,
	})

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger, corsHandler(mux)))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			limiter.Stop()
			observability.FlushSentry()
			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, database.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func newAttemptStore(ctx context.Context, redisURL string) (auth.AttemptStore, *redis.Client, error) {
	if redisURL == "" {
		return auth.NewMemoryAttemptStore(), nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return auth.NewRedisAttemptStore(client), client, nil
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
