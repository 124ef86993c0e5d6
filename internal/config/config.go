// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the full process configuration.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Lock          LockConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	CORS          CORSConfig
	RateLimit     RateLimitConfig
	Payments      PaymentsConfig
	MaterialsFile string `env:"MATERIALS_FILE"`
}

type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=20s"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Backend            string        `env:"STORE_BACKEND,default=supabase"`
	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseServiceKey string        `env:"SUPABASE_SERVICE_KEY"`
	SupabaseAnonKey    string        `env:"SUPABASE_KEY"`
	RequestTimeout     time.Duration `env:"SUPABASE_TIMEOUT,default=30s"`
	PostgresDSN        string        `env:"DATABASE_URL"`
}

// SupabaseKey prefers the service role key.
func (s StoreConfig) SupabaseKey() string {
	if s.SupabaseServiceKey != "" {
		return s.SupabaseServiceKey
	}
	return s.SupabaseAnonKey
}

type LockConfig struct {
	Backend       string        `env:"LOCK_BACKEND,default=local"`
	RedisAddr     string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	Prefix        string        `env:"LOCK_PREFIX,default=scrap:lock:"`
	TTL           time.Duration `env:"LOCK_TTL,default=30s"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

type AuthConfig struct {
	// JWTSecret verifies Supabase access tokens. Empty disables auth.
	JWTSecret string `env:"SUPABASE_JWT_SECRET"`
}

type CORSConfig struct {
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Origins splits the comma-separated origin list.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type RateLimitConfig struct {
	Enabled           bool    `env:"RATE_LIMIT_ENABLED,default=true"`
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=40"`
}

type PaymentsConfig struct {
	RetrySchedule string        `env:"PAYMENT_RETRY_SCHEDULE,default=@every 1m"`
	BatchSize     int           `env:"PAYMENT_RETRY_BATCH,default=50"`
	MaxAttempts   int           `env:"PAYMENT_MAX_ATTEMPTS,default=10"`
	SweepTimeout  time.Duration `env:"PAYMENT_SWEEP_TIMEOUT,default=30s"`
}

// Load reads envFile when it exists, then decodes the environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Lock.Backend = strings.ToLower(strings.TrimSpace(cfg.Lock.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Backend {
	case StoreSupabase:
		if c.Store.SupabaseURL == "" {
			problems = append(problems, "SUPABASE_URL is required for the supabase store")
		}
		if c.Store.SupabaseKey() == "" {
			problems = append(problems, "SUPABASE_SERVICE_KEY or SUPABASE_KEY is required for the supabase store")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis lock")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LOCK_BACKEND %q", c.Lock.Backend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Server.Port))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if _, err := cron.ParseStandard(c.Payments.RetrySchedule); err != nil {
		problems = append(problems, fmt.Sprintf("PAYMENT_RETRY_SCHEDULE: %v", err))
	}
	if c.Payments.MaxAttempts <= 0 {
		problems = append(problems, "PAYMENT_MAX_ATTEMPTS must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
