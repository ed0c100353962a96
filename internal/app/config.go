package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/charlesng35/clinicauth/internal/database"
)

// EnvPrefix namespaces environment overrides, e.g. CLINICAUTH_AUTH_JWT_SECRET.
const EnvPrefix = "CLINICAUTH"

// Config represents the runtime configuration for the clinic authorization service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Security    SecurityConfig    `mapstructure:"security"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	AccessCodes AccessCodeConfig  `mapstructure:"access_codes"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int               `mapstructure:"port"`
	LogLevel        string            `mapstructure:"log_level"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitSettings `mapstructure:"rate_limit"`
}

// RateLimitSettings bounds unauthenticated traffic such as login attempts.
type RateLimitSettings struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
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
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SecurityConfig holds key material for secrets stored at rest.
type SecurityConfig struct {
	// EncryptionKey protects second factor seeds. Hex, base64 or raw 32 bytes.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT          JWTSettings          `mapstructure:"jwt"`
	Session      SessionSettings      `mapstructure:"session"`
	Local        LocalAuthSettings    `mapstructure:"local"`
	MFA          MFASettings          `mapstructure:"mfa"`
	Registration RegistrationSettings `mapstructure:"registration"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// LocalAuthSettings defines controls for the local auth provider.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// MFASettings configures TOTP enrolment.
type MFASettings struct {
	Issuer string `mapstructure:"issuer"`
}

// RegistrationSettings toggles self-service account creation.
type RegistrationSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

// AccessCodeConfig bounds temporary access code issuance and redemption.
type AccessCodeConfig struct {
	CodeLength      int           `mapstructure:"code_length"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
	ActivationRate  float64       `mapstructure:"activation_rate"`
	ActivationBurst int           `mapstructure:"activation_burst"`
}

// MaintenanceConfig schedules housekeeping jobs (cron syntax).
type MaintenanceConfig struct {
	SessionCleanup string `mapstructure:"session_cleanup"`
	CacheCleanup   string `mapstructure:"cache_cleanup"`
}

// PermissionsConfig points at an optional YAML file extending the built-in
// permission vocabulary.
type PermissionsConfig struct {
	Vocabulary string `mapstructure:"vocabulary"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults. A .env file in the working directory, when present, is loaded into
// the process environment first; variables already set take precedence.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/clinicauth")

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
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

func loadDotEnv(path string) error {
	if err := godotenv.Load(filepath.Clean(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit.requests", 30)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/clinicauth.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.jwt.issuer", "clinicauth")
	v.SetDefault("auth.jwt.access_token_ttl", "30m")
	v.SetDefault("auth.session.refresh_token_ttl", "168h")
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "15m")
	v.SetDefault("auth.mfa.issuer", "Clinic")
	v.SetDefault("auth.registration.enabled", true)

	v.SetDefault("access_codes.code_length", 10)
	v.SetDefault("access_codes.max_duration", "24h")
	v.SetDefault("access_codes.activation_rate", 0.2)
	v.SetDefault("access_codes.activation_burst", 5)

	v.SetDefault("maintenance.session_cleanup", "@every 1h")
	v.SetDefault("maintenance.cache_cleanup", "@every 10m")
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

// ConnectionConfig converts the database section into database.Config.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql", "mariadb":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.User = host.Username
	cfg.Password = host.Password
	cfg.Name = host.Database
	cfg.Options = host.Options
	return cfg
}
