package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type Config struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins string

	StoreDriver   string // postgres | mongo | memory
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	JWTSecret     string
	JWTExpiration time.Duration

	Seeds  SeedConfig
	Limits LimitConfig

	WebhookURL    string
	WebhookSecret string

	Admin AdminConfig
}

// SeedConfig holds the one-time balance granted when an account is activated.
type SeedConfig struct {
	Customer int64
	Agent    int64
}

// For returns the seed grant for a role. Admins get nothing.
func (s SeedConfig) For(role domain.Role) int64 {
	switch role {
	case domain.RoleCustomer:
		return s.Customer
	case domain.RoleAgent:
		return s.Agent
	}
	return 0
}

type LimitConfig struct {
	History       int
	Pending       int
	ApprovalClaim time.Duration
	// ReconcileAfter is how long a request may stay settling before the
	// reconciler looks at it.
	ReconcileAfter time.Duration
}

// AdminConfig seeds an active admin account on startup when Email is set.
type AdminConfig struct {
	Name   string
	Email  string
	Mobile string
	Pin    string
}

// LoadConfig reads .env file and returns a Config struct
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on System Env Variables")
	}
	return Load()
}

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MongoURI:       getEnv("MONGODB_URI", ""),
		MongoDatabase:  getEnv("MONGODB_DATABASE", "MobileFinancialService"),
		JWTSecret:      getEnv("JWT_SECRET_KEY", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		Admin: AdminConfig{
			Name:   getEnv("BOOTSTRAP_ADMIN_NAME", "Administrator"),
			Email:  getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			Mobile: getEnv("BOOTSTRAP_ADMIN_MOBILE", ""),
			Pin:    getEnv("BOOTSTRAP_ADMIN_PIN", ""),
		},
	}

	var err error
	if cfg.JWTExpiration, err = getDuration("JWT_EXPIRATION_TIME", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Seeds.Customer, err = getInt64("SEED_CUSTOMER_BALANCE", 40); err != nil {
		return nil, err
	}
	if cfg.Seeds.Agent, err = getInt64("SEED_AGENT_BALANCE", 10000); err != nil {
		return nil, err
	}
	if cfg.Seeds.Customer < 0 || cfg.Seeds.Agent < 0 {
		return nil, fmt.Errorf("seed balances must not be negative")
	}

	history, err := getInt64("HISTORY_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	pending, err := getInt64("PENDING_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	if history <= 0 || pending <= 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT and PENDING_LIMIT must be positive")
	}
	cfg.Limits.History = int(history)
	cfg.Limits.Pending = int(pending)
	if cfg.Limits.ApprovalClaim, err = getDuration("APPROVAL_CLAIM_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Limits.ReconcileAfter, err = getDuration("SETTLEMENT_RECONCILE_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Limits.ReconcileAfter <= 0 {
		return nil, fmt.Errorf("SETTLEMENT_RECONCILE_AFTER must be positive")
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGODB_URI is not set")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET_KEY is not set")
		}
		slog.Warn("⚠️ JWT_SECRET_KEY is missing, using development key")
		cfg.JWTSecret = "development_insecure_key"
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return d, nil
}
