package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charlesng35/clinicauth/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills secrets that can safely be generated per process.
// Only the JWT secret qualifies: a fresh secret merely invalidates outstanding
// access tokens. The encryption key is never generated because second factor
// seeds encrypted with a throwaway key could not be read after a restart.
// The returned map names generated keys so callers can log without values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}

// GenerateEncryptionKey returns a random hex encoded key suitable for
// security.encryption_key.
func GenerateEncryptionKey() (string, error) {
	return generateHexKey(encryptionKeyBytes)
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
