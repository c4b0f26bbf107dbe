// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTSecret is the HS256 signing secret. Ignored when a PEM key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTLRaw is the session lifetime and cookie max-age (e.g. "1440h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// RefreshHashKey keys the HMAC used to store refresh secrets.
	RefreshHashKey string `mapstructure:"REFRESH_HASH_KEY"`

	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`
	CookieDomain   string `mapstructure:"COOKIE_DOMAIN"`
	CookieSameSite string `mapstructure:"COOKIE_SAMESITE"`

	// Argon2MemoryKB and Argon2Iterations tune password hashing cost.
	Argon2MemoryKB   uint32 `mapstructure:"ARGON2_MEMORY_KB"`
	Argon2Iterations uint32 `mapstructure:"ARGON2_ITERATIONS"`

	// Payment gateway service credentials and webhook verification.
	GatewayBaseURL    string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayPublicKey  string `mapstructure:"GATEWAY_PUBLIC_KEY"`
	GatewayPrivateKey string `mapstructure:"GATEWAY_PRIVATE_KEY"`
	GatewayCustomerID string `mapstructure:"GATEWAY_CUSTOMER_ID"`
	GatewayWebhookKey string `mapstructure:"GATEWAY_WEBHOOK_KEY"`
	GatewayName       string `mapstructure:"GATEWAY_NAME"`
	// GatewayTimeoutRaw bounds every outbound gateway call (e.g. "5s").
	GatewayTimeoutRaw string `mapstructure:"GATEWAY_TIMEOUT"`
	// GatewayTokenTTLRaw is the fallback credential lifetime when the token carries no exp claim.
	GatewayTokenTTLRaw string `mapstructure:"GATEWAY_TOKEN_TTL"`

	// RedisURL enables the Redis webhook replay guard (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the Kafka emitter.
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317). Empty disables OTel export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AWSSecretID names a Secrets Manager JSON secret overlaid onto this config.
	AWSSecretID string `mapstructure:"AWS_SECRET_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "elearn-auth")
	v.SetDefault("JWT_AUDIENCE", "elearn-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SESSION_TTL", "1440h") // 60d
	v.SetDefault("REFRESH_HASH_KEY", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SAMESITE", "lax")
	v.SetDefault("ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 1)
	v.SetDefault("GATEWAY_BASE_URL", "https://apify.epayco.co")
	v.SetDefault("GATEWAY_PUBLIC_KEY", "")
	v.SetDefault("GATEWAY_PRIVATE_KEY", "")
	v.SetDefault("GATEWAY_CUSTOMER_ID", "")
	v.SetDefault("GATEWAY_WEBHOOK_KEY", "")
	v.SetDefault("GATEWAY_NAME", "epayco")
	v.SetDefault("GATEWAY_TIMEOUT", "5s")
	v.SetDefault("GATEWAY_TOKEN_TTL", "25m")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "elearn-telemetry")
	v.SetDefault("KAFKA_GROUP_ID", "elearn-telemetry-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("AWS_SECRET_ID", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that Load and ApplySecrets must both uphold.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	switch strings.ToLower(c.CookieSameSite) {
	case "", "lax", "strict", "none":
	default:
		return errors.New("config: COOKIE_SAMESITE must be lax, strict or none")
	}
	if c.IsProduction() {
		if c.JWTSecret == "" && c.JWTPrivateKey == "" {
			return errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY required when APP_ENV=production")
		}
		if c.RefreshHashKey == "" {
			return errors.New("config: REFRESH_HASH_KEY required when APP_ENV=production")
		}
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL required when APP_ENV=production")
		}
		if c.GatewayWebhookKey == "" || c.GatewayCustomerID == "" {
			return errors.New("config: GATEWAY_WEBHOOK_KEY and GATEWAY_CUSTOMER_ID required when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// SessionTTL parses SessionTTLRaw. Returns 60 days if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionTTLRaw, 60*24*time.Hour)
}

// GatewayTimeout returns the outbound gateway call bound. Returns 5s if unset or invalid.
func (c *Config) GatewayTimeout() time.Duration {
	return parseDuration(c.GatewayTimeoutRaw, 5*time.Second)
}

// GatewayTokenTTL returns the fallback gateway credential lifetime. Returns 25m if unset or invalid.
func (c *Config) GatewayTokenTTL() time.Duration {
	return parseDuration(c.GatewayTokenTTLRaw, 25*time.Minute)
}

// SameSite maps CookieSameSite to the net/http constant. Defaults to Lax.
func (c *Config) SameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means telemetry is not shipped to Kafka.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
