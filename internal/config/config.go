// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AutoMigrate applies embedded migrations at server start.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTSecret, when set, signs access tokens HS256 and takes precedence over the key pair.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m", "900").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh session lifetime (e.g. "7d", "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// ResetTokenTTL is the password-reset token lifetime (default 1h).
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`
	// VerifyTokenTTL is the email-verification token lifetime (default 24h).
	VerifyTokenTTL string `mapstructure:"VERIFY_TOKEN_TTL"`
	// TokenTTLUnit is the unit applied to bare integer TTLs: "s" or "ms".
	TokenTTLUnit string `mapstructure:"TOKEN_TTL_UNIT"`
	// SessionScanLimit caps how many of a user's sessions are compared per verification.
	SessionScanLimit int `mapstructure:"SESSION_SCAN_LIMIT"`
	// RefreshRotation replaces the refresh secret on every successful refresh.
	RefreshRotation bool `mapstructure:"REFRESH_ROTATION"`

	// HashAlgorithm selects the SecretHasher: "bcrypt" or "argon2id".
	HashAlgorithm string `mapstructure:"HASH_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost        int `mapstructure:"BCRYPT_COST"`
	Argon2MemoryKB    int `mapstructure:"ARGON2_MEMORY_KB"`
	Argon2Time        int `mapstructure:"ARGON2_TIME"`
	Argon2Parallelism int `mapstructure:"ARGON2_PARALLELISM"`

	// Notifier selects the delivery backend: log, memory, webhook, kafka, amqp.
	Notifier string `mapstructure:"NOTIFIER"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notification worker.
	KafkaGroupID        string `mapstructure:"KAFKA_GROUP_ID"`
	AMQPURL             string `mapstructure:"AMQP_URL"`
	NotifyAMQPQueue     string `mapstructure:"NOTIFY_AMQP_QUEUE"`
	NotifyWebhookURL    string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookAPIKey string `mapstructure:"NOTIFY_WEBHOOK_API_KEY"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
}

const (
	maxArgon2MemoryKB = 4 * 1024 * 1024 // 4 GiB
	maxArgon2Time     = 100
)

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "account-platform")
	v.SetDefault("JWT_AUDIENCE", "account-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("VERIFY_TOKEN_TTL", "24h")
	v.SetDefault("TOKEN_TTL_UNIT", "s")
	v.SetDefault("SESSION_SCAN_LIMIT", 100)
	v.SetDefault("REFRESH_ROTATION", false)
	v.SetDefault("HASH_ALGORITHM", "bcrypt")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("ARGON2_TIME", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "account-notifications")
	v.SetDefault("KAFKA_GROUP_ID", "account-notify-worker")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("NOTIFY_AMQP_QUEUE", "account.notifications")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_WEBHOOK_API_KEY", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "account-platform")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	c.TokenTTLUnit = strings.ToLower(strings.TrimSpace(c.TokenTTLUnit))
	if c.TokenTTLUnit != "s" && c.TokenTTLUnit != "ms" {
		return fmt.Errorf("config: TOKEN_TTL_UNIT must be s or ms, got %q", c.TokenTTLUnit)
	}
	for key, raw := range map[string]string{
		"JWT_ACCESS_TTL":   c.JWTAccessTTL,
		"JWT_REFRESH_TTL":  c.JWTRefreshTTL,
		"RESET_TOKEN_TTL":  c.ResetTokenTTL,
		"VERIFY_TOKEN_TTL": c.VerifyTokenTTL,
	} {
		if _, err := ParseTTL(raw, c.TokenTTLUnit); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	c.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.HashAlgorithm))
	if c.HashAlgorithm != "bcrypt" && c.HashAlgorithm != "argon2id" {
		return fmt.Errorf("config: HASH_ALGORITHM must be bcrypt or argon2id, got %q", c.HashAlgorithm)
	}
	// Zero argon2 settings fall back to security.DefaultArgon2Params.
	if c.Argon2MemoryKB < 0 || c.Argon2MemoryKB > maxArgon2MemoryKB {
		return fmt.Errorf("config: ARGON2_MEMORY_KB must be between 0 and %d", maxArgon2MemoryKB)
	}
	if c.Argon2Time < 0 || c.Argon2Time > maxArgon2Time {
		return fmt.Errorf("config: ARGON2_TIME must be between 0 and %d", maxArgon2Time)
	}
	if c.Argon2Parallelism < 0 || c.Argon2Parallelism > math.MaxUint8 {
		return fmt.Errorf("config: ARGON2_PARALLELISM must be between 0 and %d", math.MaxUint8)
	}
	if c.SessionScanLimit < 0 {
		return errors.New("config: SESSION_SCAN_LIMIT must not be negative")
	}
	c.Notifier = strings.ToLower(strings.TrimSpace(c.Notifier))
	switch c.Notifier {
	case "log", "webhook", "kafka", "amqp":
	case "memory":
		if c.Env == "production" {
			return errors.New("config: NOTIFIER=memory must not be used when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: unknown NOTIFIER %q", c.Notifier)
	}
	if c.Notifier == "kafka" && len(c.KafkaBrokersList()) == 0 {
		return errors.New("config: NOTIFIER=kafka requires KAFKA_BROKERS")
	}
	if c.Notifier == "amqp" && c.AMQPURL == "" {
		return errors.New("config: NOTIFIER=amqp requires AMQP_URL")
	}
	if c.Notifier == "webhook" && c.NotifyWebhookURL == "" {
		return errors.New("config: NOTIFIER=webhook requires NOTIFY_WEBHOOK_URL")
	}
	if c.Env == "production" && c.JWTSecret == "" && (c.JWTPrivateKey == "" || c.JWTPublicKey == "") {
		return errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set when APP_ENV=production")
	}
	return nil
}

// ParseTTL normalizes a configured lifetime into a time.Duration. It accepts Go
// durations ("15m", "168h"), whole days ("7d") and bare integers, which are read
// in unit ("s" or "ms"). A bare "604800" is therefore 7 days with unit "s" and
// about 10 minutes with unit "ms"; the unit is never guessed from magnitude.
func ParseTTL(raw, unit string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty ttl")
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("ttl must be positive, got %d", n)
		}
		var per time.Duration
		switch unit {
		case "s":
			per = time.Second
		case "ms":
			per = time.Millisecond
		default:
			return 0, fmt.Errorf("unknown ttl unit %q", unit)
		}
		if n > math.MaxInt64/int64(per) {
			return 0, fmt.Errorf("ttl %q is out of range", raw)
		}
		return time.Duration(n) * per, nil
	}
	if strings.HasSuffix(raw, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid ttl %q", raw)
		}
		if int64(n) > math.MaxInt64/int64(24*time.Hour) {
			return 0, fmt.Errorf("ttl %q is out of range", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", raw)
	}
	return d, nil
}

func (c *Config) ttl(raw string, fallback time.Duration) time.Duration {
	d, err := ParseTTL(raw, c.TokenTTLUnit)
	if err != nil {
		return fallback
	}
	return d
}

// AccessTTL returns the access token lifetime. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return c.ttl(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL returns the refresh session lifetime. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return c.ttl(c.JWTRefreshTTL, 168*time.Hour) }

// ResetTTL returns the password-reset token lifetime. Returns 1h if unset or invalid.
func (c *Config) ResetTTL() time.Duration { return c.ttl(c.ResetTokenTTL, time.Hour) }

// VerifyTTL returns the email-verification token lifetime. Returns 24h if unset or invalid.
func (c *Config) VerifyTTL() time.Duration { return c.ttl(c.VerifyTokenTTL, 24*time.Hour) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
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
