package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"expense-tracker/internal/db"
)

type Config struct {
	Env       string
	Port      string
	SentryDSN string

	JWTSecret      string
	SessionTTL     time.Duration
	TelegramToken  string
	BotAccessToken string
	TOTPSecret     string
	TelegramOnly   bool

	DBDriver    string
	DatabaseURL string
	RedisURL    string

	LoginMaxAttempts int
	LoginLock        time.Duration
	LockoutSweep     time.Duration

	CronSecret         string
	CORSAllowedOrigins []string
}

// LoadConfig reads the process environment. A missing JWT_SECRET is fatal.
func LoadConfig() (Config, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:       envOrDefault("APP_ENV", "development"),
		Port:      envOrDefault("PORT", "8080"),
		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		JWTSecret:      jwtSecret,
		SessionTTL:     envMinutesOrDefault("SESSION_TTL_MINUTES", 15),
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		BotAccessToken: strings.TrimSpace(os.Getenv("BOT_ACCESS_TOKEN")),
		TOTPSecret:     strings.TrimSpace(os.Getenv("ADMIN_TOTP_SECRET")),
		TelegramOnly:   EnvBoolOrDefault("AUTH_TELEGRAM_ONLY", false),

		DBDriver:    envOrDefault("DB_DRIVER", db.DriverSQLite),
		DatabaseURL: envOrDefault("DATABASE_URL", "file:./data/expense.db"),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),

		LoginMaxAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLock:        envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		LockoutSweep:     envMinutesOrDefault("LOCKOUT_SWEEP_MINUTES", 5),

		CronSecret:         strings.TrimSpace(os.Getenv("CRON_SECRET")),
		CORSAllowedOrigins: envListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if cfg.DBDriver != db.DriverSQLite && cfg.DBDriver != db.DriverPostgres {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
