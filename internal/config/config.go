package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewModelCatalogHolder),
)

var (
	ErrMissingIdentityProvider = errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	ErrPublishableStripeKey    = errors.New("STRIPE_API_KEY is a publishable key (pk_), a secret key (sk_ or rk_) is required")
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Port        string

	OTLPEndpoint string

	Supabase   SupabaseConfig
	OpenRouter OpenRouterConfig
	Stripe     StripeConfig
	Redis      RedisConfig
	Dispatch   DispatchConfig

	CORSAllowedOrigins []string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

type SupabaseConfig struct {
	URL     string
	AnonKey string
	// CacheTTL bounds how long a verified token is trusted without asking
	// Supabase again. Zero disables the cache.
	CacheTTL time.Duration
}

type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
}

type StripeConfig struct {
	SecretKey string
	BaseURL   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DispatchConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Enabled reports whether a Stripe secret key is configured.
func (c StripeConfig) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// Load loads configuration from environment variables and .env file and
// rejects configurations the service cannot start with.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it. Tools that need
// only part of it, such as the key checker, validate what they use.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "tokenrelay"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		Port:         getenv("PORT", "3000"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Supabase: SupabaseConfig{
			URL:      strings.TrimRight(getenv("SUPABASE_URL", ""), "/"),
			AnonKey:  getenv("SUPABASE_ANON_KEY", ""),
			CacheTTL: getenvDurationAllowZero("IDENTITY_CACHE_TTL", 30*time.Second),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:  getenv("OPENROUTER_API_KEY", ""),
			BaseURL: strings.TrimRight(getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			Referer: getenv("OPENROUTER_REFERER", "https://github.com/smallbiznis/tokenrelay"),
			Title:   getenv("OPENROUTER_TITLE", "Token Relay"),
			Timeout: getenvDuration("OPENROUTER_TIMEOUT", 60*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey: getenv("STRIPE_API_KEY", ""),
			BaseURL:   strings.TrimRight(getenv("STRIPE_BASE_URL", "https://api.stripe.com"), "/"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Dispatch: DispatchConfig{
			Workers:    getenvInt("DISPATCH_WORKERS", 4),
			QueueSize:  getenvInt("DISPATCH_QUEUE_SIZE", 256),
			JobTimeout: getenvDuration("DISPATCH_JOB_TIMEOUT", 30*time.Second),
		},
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "postgres"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
		return ErrMissingIdentityProvider
	}
	if strings.HasPrefix(c.Stripe.SecretKey, "pk_") {
		return ErrPublishableStripeKey
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch workers and queue size must be positive")
	}
	return nil
}

func (c Config) Addr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = "3000"
	}
	return ":" + port
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvDurationAllowZero(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	out := parseList(raw)
	if len(out) == 0 {
		return def
	}
	return out
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
