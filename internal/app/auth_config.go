package app

import (
	"fmt"
	"time"

	"github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/services"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	encryptionKeyBytes      = 32
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// LocalProviderConfig converts AuthConfig into LocalProvider parameters.
func (c AuthConfig) LocalProviderConfig() providers.LocalConfig {
	duration := c.Local.LockoutDuration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}

	threshold := c.Local.LockoutThreshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}

	return providers.LocalConfig{
		LockoutThreshold:  threshold,
		LockoutDuration:   duration,
		AllowRegistration: c.Registration.Enabled,
	}
}

// ServiceConfig converts the access code section into AccessCodeService parameters.
func (c AccessCodeConfig) ServiceConfig() services.AccessCodeConfig {
	length := c.CodeLength
	if length <= 0 {
		length = services.DefaultCodeLength
	}

	maxDuration := c.MaxDuration
	if maxDuration <= 0 {
		maxDuration = services.DefaultMaxCodeDuration
	}

	return services.AccessCodeConfig{
		CodeLength:  length,
		MaxDuration: maxDuration,
	}
}

// EncryptionKeyBytes decodes the at-rest encryption key. An empty key returns
// nil without error; features needing it stay disabled.
func (c SecurityConfig) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := DecodeKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if len(key) != encryptionKeyBytes {
		return nil, fmt.Errorf("security.encryption_key must decode to %d bytes, got %d", encryptionKeyBytes, len(key))
	}
	return key, nil
}
