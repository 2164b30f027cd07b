package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Security.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutWindow)
	assert.Equal(t, LockoutScopeTuple, cfg.Security.LockoutScope)
	assert.Equal(t, 720*time.Hour, cfg.Security.SuspiciousLookback)
	assert.Equal(t, 20, cfg.Security.SuspiciousHistoryLimit)
	assert.True(t, cfg.Security.FingerprintIncludeIP)

	assert.Equal(t, 10*time.Minute, cfg.MFA.CodeTTL)
	assert.Equal(t, 6, cfg.MFA.CodeDigits)
	assert.Equal(t, 5, cfg.MFA.MaxFailures)

	assert.Equal(t, GeoProviderNone, cfg.Geo.Provider)
	assert.Equal(t, NotifierLog, cfg.Notify.Sender)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout)

	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins, "development gets localhost origins")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("LOCKOUT_DURATION", "30m")
	t.Setenv("LOCKOUT_SCOPE", "email")
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("NOTIFY_SENDER", "kafka")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Security.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Security.LockoutDuration)
	assert.Equal(t, LockoutScopeEmail, cfg.Security.LockoutScope)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("LOCKOUT_DURATION", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero threshold", func(c *Config) { c.Security.LockoutThreshold = 0 }, "LOCKOUT_THRESHOLD"},
		{"unknown scope", func(c *Config) { c.Security.LockoutScope = "ip" }, "LOCKOUT_SCOPE"},
		{"short code", func(c *Config) { c.MFA.CodeDigits = 4 }, "MFA_CODE_DIGITS"},
		{"maxmind without db", func(c *Config) { c.Geo.Provider = GeoProviderMaxMind }, "GEO_CITY_DB_PATH"},
		{"slow geo", func(c *Config) { c.Geo.Timeout = 10 * time.Second }, "GEO_TIMEOUT"},
		{"kafka without brokers", func(c *Config) { c.Notify.Sender = NotifierKafka }, "KAFKA_BROKERS"},
		{"unknown sender", func(c *Config) { c.Notify.Sender = "pigeon" }, "NOTIFY_SENDER"},
		{"bad proxy range", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, "TRUSTED_PROXIES"},
		{"zero login rate", func(c *Config) { c.Server.LoginRateLimit = 0 }, "rate limits"},
		{"weak secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJWTSecret_Production(t *testing.T) {
	assert.Error(t, validateJWTSecret("sixteen-chars-ok", "production"))
	assert.NoError(t, validateJWTSecret("sixteen-chars-ok", "development"))
	assert.Error(t, validateJWTSecret("changeme", "development"))
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Env: "development", LoginRateLimit: 20, APIRateLimit: 120},
		Auth:   AuthConfig{JWTSecret: "test-secret-32-characters-long!"},
		Security: SecurityConfig{
			LockoutThreshold: 5,
			LockoutDuration:  15 * time.Minute,
			LockoutScope:     LockoutScopeTuple,
		},
		MFA: MFAConfig{
			CodeTTL:     10 * time.Minute,
			CodeDigits:  6,
			MaxFailures: 5,
		},
		Geo:    GeoConfig{Provider: GeoProviderNone, Timeout: 3 * time.Second},
		Notify: NotifyConfig{Sender: NotifierLog},
	}
}
