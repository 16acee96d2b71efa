// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values for DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported values for SMS_PROVIDER.
const (
	SMSProviderLog      = "log"
	SMSProviderSMSLocal = "smslocal"
	// SMSProviderDev is shorthand for OTP_RETURN_TO_CLIENT=true.
	SMSProviderDev = "dev"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the REST API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health listener. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DBDriver selects the SQL backend: sqlite (default) or postgres.
	DBDriver string `mapstructure:"DB_DRIVER"`
	// DatabaseURL is the SQLite file path or the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OTPTTL is how long an issued code stays valid (e.g. "10m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPResendWindow is the minimum gap between two codes for the same phone (e.g. "60s").
	OTPResendWindow string `mapstructure:"OTP_RESEND_WINDOW"`
	// OTPMaxAttempts is the number of wrong guesses after which a challenge expires. 0 disables the limit.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// SessionTTL is the bearer token lifetime (e.g. "720h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31) used for stored OTP hashes.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SMSProvider selects code delivery: log (development), smslocal or dev.
	SMSProvider string `mapstructure:"SMS_PROVIDER"`
	// SMSLocalAPIKey is the API key for SMS Local. Required when SMSProvider is smslocal.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient enables dev OTP mode: no SMS, code stored for GET /dev/otp. Must not be true in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// RedisAddr, when set, backs the dev OTP store with Redis instead of process memory.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisDB is the Redis logical database for the dev OTP store.
	RedisDB int `mapstructure:"REDIS_DB"`

	// OTPPolicyFile is an optional Rego file overriding the default phone admission policy.
	OTPPolicyFile string `mapstructure:"OTP_POLICY_FILE"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the producer.
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for request telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// CORSAllowedOrigin is the Access-Control-Allow-Origin value sent to the mobile client.
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_URL", "storage/database.sqlite")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_RESEND_WINDOW", "60s")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("SESSION_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("SMS_PROVIDER", SMSProviderLog)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTP_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "surveyapp-auth")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "surveyapp-telemetry")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("config: DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.DBDriver)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}

	cfg.SMSProvider = strings.ToLower(strings.TrimSpace(cfg.SMSProvider))
	if cfg.SMSProvider == SMSProviderDev {
		cfg.OTPReturnToClient = true
	}

	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	switch cfg.SMSProvider {
	case SMSProviderDev:
	case SMSProviderLog:
		if cfg.Env == "production" && !cfg.OTPReturnToClient {
			return nil, errors.New("config: SMS_PROVIDER=log must not be used when APP_ENV=production")
		}
	case SMSProviderSMSLocal:
		if cfg.SMSLocalAPIKey == "" && !cfg.OTPReturnToClient {
			return nil, errors.New("config: SMS_LOCAL_API_KEY is required when SMS_PROVIDER=smslocal")
		}
	default:
		return nil, fmt.Errorf("config: unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 10
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.OTPMaxAttempts < 0 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must not be negative")
	}

	return &cfg, nil
}

// OTPExpiry parses OTPTTL as a time.Duration. Returns 10m if unset or invalid.
func (c *Config) OTPExpiry() time.Duration {
	return parseDurationOr(c.OTPTTL, 10*time.Minute)
}

// ResendWindow parses OTPResendWindow as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) ResendWindow() time.Duration {
	return parseDurationOr(c.OTPResendWindow, 60*time.Second)
}

// SessionExpiry parses SessionTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) SessionExpiry() time.Duration {
	return parseDurationOr(c.SessionTTL, 720*time.Hour)
}

// DevOTPEnabled reports whether codes are stored for GET /dev/otp instead of being sent.
func (c *Config) DevOTPEnabled() bool {
	return c != nil && c.OTPReturnToClient && c.Env != "production"
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
