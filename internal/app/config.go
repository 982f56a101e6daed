package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Promogate backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Invitations InvitationConfig  `mapstructure:"invitations"`
	KYC         KYCConfig         `mapstructure:"kyc"`
	SMS         SMSConfig         `mapstructure:"sms"`
	Email       EmailConfig       `mapstructure:"email"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	BaseURL  string `mapstructure:"base_url"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig captures authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Session SessionSettings `mapstructure:"session"`
	StepUp  StepUpSettings  `mapstructure:"step_up"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures session token lifetimes.
type SessionSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	TokenLength int           `mapstructure:"token_length"`
}

// StepUpSettings configures the re-verification window for sensitive actions.
type StepUpSettings struct {
	Window time.Duration `mapstructure:"window"`
}

// InvitationConfig controls invitation issuance.
type InvitationConfig struct {
	ExpiryDays int `mapstructure:"expiry_days"`
}

// KYCConfig controls verification review behaviour.
type KYCConfig struct {
	ApprovalValidityDays int `mapstructure:"approval_validity_days"`
}

// SMSConfig controls verification code dispatch and throttling.
type SMSConfig struct {
	DailyLimit     int           `mapstructure:"daily_limit"`
	CodeTTL        time.Duration `mapstructure:"code_ttl"`
	CodeDigits     int           `mapstructure:"code_digits"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	Strict         bool          `mapstructure:"strict"`
	Gateway        GatewayConfig `mapstructure:"gateway"`
}

// GatewayConfig defines the HTTP SMS gateway endpoint.
type GatewayConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig controls where uploaded verification documents are kept.
type StorageConfig struct {
	Directory   string `mapstructure:"directory"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

// MaintenanceConfig controls the background cleanup schedule.
type MaintenanceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Schedule          string        `mapstructure:"schedule"`
	ActivityRetention time.Duration `mapstructure:"activity_retention"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults. Every key carries a default so PROMOGATE_* environment variables
// override it even when no config file is present.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PROMOGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "http://localhost:8000")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/promogate.sqlite")
	v.SetDefault("database.dsn", "")
	for _, db := range []string{"postgres", "mysql"} {
		v.SetDefault("database."+db+".enabled", false)
		v.SetDefault("database."+db+".host", "")
		v.SetDefault("database."+db+".port", 0)
		v.SetDefault("database."+db+".database", "")
		v.SetDefault("database."+db+".username", "")
		v.SetDefault("database."+db+".password", "")
	}

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.issuer", "promogate")
	v.SetDefault("auth.session.ttl", "720h") // 30 days
	v.SetDefault("auth.session.token_length", 32)
	v.SetDefault("auth.step_up.window", "15m")

	v.SetDefault("invitations.expiry_days", 7)

	v.SetDefault("kyc.approval_validity_days", 365)

	v.SetDefault("sms.daily_limit", 5)
	v.SetDefault("sms.code_ttl", "10m")
	v.SetDefault("sms.code_digits", 6)
	v.SetDefault("sms.max_attempts", 3)
	v.SetDefault("sms.resend_cooldown", "60s")
	v.SetDefault("sms.strict", false)
	v.SetDefault("sms.gateway.enabled", false)
	v.SetDefault("sms.gateway.url", "")
	v.SetDefault("sms.gateway.api_key", "")
	v.SetDefault("sms.gateway.from", "")
	v.SetDefault("sms.gateway.timeout", "10s")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("storage.directory", "./data/documents")
	v.SetDefault("storage.max_file_size", 10<<20)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")
	v.SetDefault("maintenance.activity_retention", "2160h") // 90 days
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
