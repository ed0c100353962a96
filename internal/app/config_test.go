package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/services"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, 10, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.clinic.internal", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "require", cfg.Database.Postgres.Options["sslmode"])

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.clinic.internal:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "clinic-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 20*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 48*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 64, cfg.Auth.Session.RefreshLength)
	require.Equal(t, 7, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, "Kumasi Clinic", cfg.Auth.MFA.Issuer)
	require.False(t, cfg.Auth.Registration.Enabled)

	require.Equal(t, 12, cfg.AccessCodes.CodeLength)
	require.Equal(t, 12*time.Hour, cfg.AccessCodes.MaxDuration)
	require.InDelta(t, 0.5, cfg.AccessCodes.ActivationRate, 1e-9)
	require.Equal(t, 3, cfg.AccessCodes.ActivationBurst)

	require.Equal(t, "@every 30m", cfg.Maintenance.SessionCleanup)
	require.Equal(t, "@every 5m", cfg.Maintenance.CacheCleanup)

	key, err := cfg.Security.EncryptionKeyBytes()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CLINICAUTH_SERVER_PORT", "7070")
	t.Setenv("CLINICAUTH_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "from-env", cfg.Auth.JWT.Secret)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "Postgres",
		Postgres: DBAuthConfig{
			Host:     "db",
			Port:     5432,
			Database: "clinic",
			Username: "svc",
			Password: "pw",
		},
	}

	conn := cfg.ConnectionConfig()
	require.Equal(t, "postgres", conn.Driver)
	require.Equal(t, "db", conn.Host)
	require.Equal(t, "clinic", conn.Name)
	require.Equal(t, "svc", conn.User)

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/test.sqlite"}.ConnectionConfig()
	require.Equal(t, "./data/test.sqlite", sqlite.Path)
	require.Empty(t, sqlite.Host)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Session: SessionSettings{
				RefreshTTL:    10 * time.Hour,
				RefreshLength: 32,
			},
			Local: LocalAuthSettings{
				LockoutThreshold: 4,
				LockoutDuration:  10 * time.Minute,
			},
			Registration: RegistrationSettings{Enabled: true},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, jwtCfg)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	require.Equal(t, 10*time.Hour, sessionCfg.RefreshTokenTTL)
	require.Equal(t, 32, sessionCfg.RefreshLength)

	localCfg := cfg.Auth.LocalProviderConfig()
	require.Equal(t, providers.LocalConfig{
		LockoutThreshold:  4,
		LockoutDuration:   10 * time.Minute,
		AllowRegistration: true,
	}, localCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	sessionCfg := cfg.SessionServiceConfig()
	require.Equal(t, auth.DefaultRefreshTokenTTL, sessionCfg.RefreshTokenTTL)
	require.Equal(t, 48, sessionCfg.RefreshLength)

	localCfg := cfg.LocalProviderConfig()
	require.Equal(t, defaultLockoutThreshold, localCfg.LockoutThreshold)
	require.Equal(t, defaultLockoutDuration, localCfg.LockoutDuration)
	require.False(t, localCfg.AllowRegistration)
}

func TestAccessCodeServiceConfig(t *testing.T) {
	cfg := AccessCodeConfig{CodeLength: 8, MaxDuration: 2 * time.Hour}.ServiceConfig()
	require.Equal(t, 8, cfg.CodeLength)
	require.Equal(t, 2*time.Hour, cfg.MaxDuration)

	fallback := AccessCodeConfig{}.ServiceConfig()
	require.Equal(t, services.DefaultCodeLength, fallback.CodeLength)
	require.Equal(t, services.DefaultMaxCodeDuration, fallback.MaxDuration)
}

func TestRedisClientConfig(t *testing.T) {
	cfg := CacheConfig{Redis: RedisCacheConfig{Address: " redis:6379 ", DB: 1, Timeout: time.Second}}.RedisClientConfig()
	require.Equal(t, "redis:6379", cfg.Address)
	require.Equal(t, 1, cfg.DB)
	require.Equal(t, time.Second, cfg.Timeout)
}
