// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Identity   IdentityConfig   `koanf:"identity"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	CORS       CORSConfig       `koanf:"cors"`
	Log        LogConfig        `koanf:"log"`
	Otel       OtelConfig       `koanf:"otel"`
	Portal     PortalConfig     `koanf:"portal"`
	AI         AIConfig         `koanf:"ai"`
	Stripe     StripeConfig     `koanf:"stripe"`
	Generation GenerationConfig `koanf:"generation"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// IdentityConfig describes how tokens issued by the identity provider are
// verified. JWKSURL wins over PublicKeyPath when both are set.
type IdentityConfig struct {
	JWKSURL           string        `koanf:"jwks_url"`
	PublicKeyPath     string        `koanf:"public_key_path"`
	PrivateKeyPath    string        `koanf:"private_key_path"`
	Algorithm         string        `koanf:"algorithm"`
	Issuer            string        `koanf:"issuer"`
	Audience          string        `koanf:"audience"`
	AccessTokenExpire time.Duration `koanf:"access_token_expire"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// PortalConfig points at the ASM Portal credit service.
type PortalConfig struct {
	URL        string        `koanf:"url"`
	ServiceKey string        `koanf:"service_key"`
	Timeout    time.Duration `koanf:"timeout"`
}

type AIConfig struct {
	Provider        string        `koanf:"provider"`
	AnthropicAPIKey string        `koanf:"anthropic_api_key"`
	AnthropicURL    string        `koanf:"anthropic_url"`
	AnthropicModel  string        `koanf:"anthropic_model"`
	OpenAIAPIKey    string        `koanf:"openai_api_key"`
	OpenAIURL       string        `koanf:"openai_url"`
	OpenAIModel     string        `koanf:"openai_model"`
	MaxTokens       int           `koanf:"max_tokens"`
	Timeout         time.Duration `koanf:"timeout"`
}

type StripeConfig struct {
	SecretKey      string `koanf:"secret_key"`
	WebhookSecret  string `koanf:"webhook_secret"`
	StarterPriceID string `koanf:"starter_price_id"`
	ProPriceID     string `koanf:"pro_price_id"`
	TeamPriceID    string `koanf:"team_price_id"`
	AppURL         string `koanf:"app_url"`
}

type GenerationConfig struct {
	Cost    int           `koanf:"cost"`
	LockTTL time.Duration `koanf:"lock_ttl"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		cfg, loadErr = load(configPath)
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "Storywork API",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "90s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"identity.access_token_expire": "1h",

		"rate_limit.requests": 100,
		"rate_limit.window":   "1m",
		"rate_limit.burst":    20,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"Idempotency-Key",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "storywork-api",

		"portal.timeout": "5s",

		"ai.provider":        "anthropic",
		"ai.anthropic_url":   "https://api.anthropic.com",
		"ai.anthropic_model": "claude-sonnet-4-20250514",
		"ai.openai_url":      "https://api.openai.com",
		"ai.openai_model":    "gpt-4o",
		"ai.max_tokens":      2000,
		"ai.timeout":         "60s",

		"stripe.app_url": "http://localhost:3000",

		"generation.cost":     75,
		"generation.lock_ttl": "2m",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"IDENTITY_JWKS_URL":           "identity.jwks_url",
	"IDENTITY_PUBLIC_KEY_PATH":    "identity.public_key_path",
	"IDENTITY_PRIVATE_KEY_PATH":   "identity.private_key_path",
	"IDENTITY_ALGORITHM":          "identity.algorithm",
	"IDENTITY_ISSUER":             "identity.issuer",
	"IDENTITY_AUDIENCE":           "identity.audience",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
	"ASM_PORTAL_URL":              "portal.url",
	"SERVICE_API_KEY":             "portal.service_key",
	"ASM_PORTAL_TIMEOUT":          "portal.timeout",
	"AI_PROVIDER":                 "ai.provider",
	"ANTHROPIC_API_KEY":           "ai.anthropic_api_key",
	"ANTHROPIC_API_URL":           "ai.anthropic_url",
	"OPENAI_API_KEY":              "ai.openai_api_key",
	"OPENAI_API_URL":              "ai.openai_url",
	"STRIPE_SECRET_KEY":           "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":       "stripe.webhook_secret",
	"STRIPE_STARTER_PRICE_ID":     "stripe.starter_price_id",
	"STRIPE_PRO_PRICE_ID":         "stripe.pro_price_id",
	"STRIPE_TEAM_PRICE_ID":        "stripe.team_price_id",
	"APP_URL":                     "stripe.app_url",
	"GENERATION_COST":             "generation.cost",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Identity.JWKSURL == "" && c.Identity.PublicKeyPath == "" {
		return fmt.Errorf(
			"IDENTITY_JWKS_URL or IDENTITY_PUBLIC_KEY_PATH is required",
		)
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
		if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if c.Generation.Cost <= 0 {
		return fmt.Errorf("generation.cost must be positive")
	}

	if c.Portal.URL != "" && c.Portal.Timeout <= 0 {
		return fmt.Errorf("portal.timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
