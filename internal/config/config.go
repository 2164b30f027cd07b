package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	MFA      MFAConfig
	Geo      GeoConfig
	Notify   NotifyConfig
	Email    EmailConfig
	Kafka    KafkaConfig
}

type DatabaseConfig struct {
	Host              string        `env:"DB_HOST" envDefault:"localhost"`
	Port              int           `env:"DB_PORT" envDefault:"5432"`
	User              string        `env:"DB_USER" envDefault:"postgres"`
	Password          string        `env:"DB_PASSWORD,required,notEmpty"`
	Name              string        `env:"DB_NAME" envDefault:"loginguard"`
	SSLMode           string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"5m"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"1m"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	StatementTimeout  time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"5s"`
	ConnectAttempts   int           `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
}

type ServerConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Env            string        `env:"ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	// LoginRateLimit caps POST /auth/login per client IP per minute
	LoginRateLimit int `env:"LOGIN_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	// APIRateLimit caps authenticated requests per user per minute
	APIRateLimit int `env:"API_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	// TrustedProxies are CIDR ranges whose X-Forwarded-For is honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

type AuthConfig struct {
	JWTSecret            string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenExpiry    time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	Issuer               string        `env:"JWT_ISSUER" envDefault:"loginguard"`
	TimingDelayBaseMs    int           `env:"TIMING_DELAY_BASE_MS" envDefault:"500"`
	TimingDelayRandomMs  int           `env:"TIMING_DELAY_RANDOM_MS" envDefault:"100"`
	TimingDelayOnSuccess bool          `env:"TIMING_DELAY_ON_SUCCESS" envDefault:"false"`
}

// Lockout scopes
const (
	LockoutScopeTuple = "tuple"
	LockoutScopeEmail = "email"
)

type SecurityConfig struct {
	LockoutThreshold       int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration        time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
	LockoutWindow          time.Duration `env:"LOCKOUT_WINDOW" envDefault:"15m"`
	LockoutScope           string        `env:"LOCKOUT_SCOPE" envDefault:"tuple"`
	SuspiciousLookback     time.Duration `env:"SUSPICIOUS_LOOKBACK" envDefault:"720h"`
	SuspiciousHistoryLimit int           `env:"SUSPICIOUS_HISTORY_LIMIT" envDefault:"20"`
	NewDeviceLookback      time.Duration `env:"NEW_DEVICE_LOOKBACK" envDefault:"2160h"`
	FingerprintIncludeIP   bool          `env:"FINGERPRINT_INCLUDE_IP" envDefault:"true"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

type MFAConfig struct {
	CodeTTL         time.Duration `env:"MFA_CODE_TTL" envDefault:"10m"`
	CodeDigits      int           `env:"MFA_CODE_DIGITS" envDefault:"6"`
	MaxFailures     int           `env:"MFA_MAX_FAILURES" envDefault:"5"`
	LockoutDuration time.Duration `env:"MFA_LOCKOUT_DURATION" envDefault:"15m"`
	// TOTPEncryptionKey is 32 bytes, hex encoded
	TOTPEncryptionKey string `env:"TOTP_ENCRYPTION_KEY"`
	TOTPIssuer        string `env:"TOTP_ISSUER" envDefault:"LoginGuard"`
}

// Geolocation providers
const (
	GeoProviderNone    = "none"
	GeoProviderMaxMind = "maxmind"
	GeoProviderHTTP    = "http"
)

type GeoConfig struct {
	Provider        string        `env:"GEO_PROVIDER" envDefault:"none"`
	Timeout         time.Duration `env:"GEO_TIMEOUT" envDefault:"3s"`
	CityDBPath      string        `env:"GEO_CITY_DB_PATH"`
	ASNDBPath       string        `env:"GEO_ASN_DB_PATH"`
	AnonymousDBPath string        `env:"GEO_ANONYMOUS_DB_PATH"`
	HTTPBaseURL     string        `env:"GEO_HTTP_BASE_URL" envDefault:"http://ip-api.com/json"`
	HTTPRetryMax    int           `env:"GEO_HTTP_RETRY_MAX" envDefault:"1"`
}

// Notification senders
const (
	NotifierLog   = "log"
	NotifierSES   = "ses"
	NotifierKafka = "kafka"
)

type NotifyConfig struct {
	Sender  string        `env:"NOTIFY_SENDER" envDefault:"log"`
	Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
}

type EmailConfig struct {
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
}

type KafkaConfig struct {
	Brokers           []string `env:"KAFKA_BROKERS"`
	NotificationTopic string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"notifications"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Server.Env != "production" && len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = developmentOrigins()
	}

	return &cfg, nil
}

// Validate checks cross-field constraints env tags cannot express
func (c *Config) Validate() error {
	if err := validateJWTSecret(c.Auth.JWTSecret, c.Server.Env); err != nil {
		return err
	}

	if c.Security.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", c.Security.LockoutThreshold)
	}
	if c.Security.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	switch c.Security.LockoutScope {
	case LockoutScopeTuple, LockoutScopeEmail:
	default:
		return fmt.Errorf("LOCKOUT_SCOPE must be %q or %q (got %q)", LockoutScopeTuple, LockoutScopeEmail, c.Security.LockoutScope)
	}

	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 10 {
		return fmt.Errorf("MFA_CODE_DIGITS must be between 6 and 10 (got %d)", c.MFA.CodeDigits)
	}
	if c.MFA.CodeTTL <= 0 {
		return fmt.Errorf("MFA_CODE_TTL must be positive")
	}
	if c.MFA.MaxFailures < 1 {
		return fmt.Errorf("MFA_MAX_FAILURES must be at least 1 (got %d)", c.MFA.MaxFailures)
	}

	if c.Server.LoginRateLimit < 1 || c.Server.APIRateLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1 request per minute")
	}

	for _, cidr := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES contains an invalid CIDR %q", cidr)
		}
	}

	switch c.Geo.Provider {
	case GeoProviderNone, GeoProviderHTTP:
	case GeoProviderMaxMind:
		if c.Geo.CityDBPath == "" {
			return fmt.Errorf("GEO_CITY_DB_PATH is required when GEO_PROVIDER=maxmind")
		}
	default:
		return fmt.Errorf("unknown GEO_PROVIDER %q", c.Geo.Provider)
	}
	if c.Geo.Timeout <= 0 || c.Geo.Timeout > 5*time.Second {
		return fmt.Errorf("GEO_TIMEOUT must be in (0s, 5s] (got %s)", c.Geo.Timeout)
	}

	switch c.Notify.Sender {
	case NotifierLog, NotifierSES:
	case NotifierKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_SENDER=kafka")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_SENDER %q", c.Notify.Sender)
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the libpq connection URL used by the migration runner
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func developmentOrigins() []string {
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
