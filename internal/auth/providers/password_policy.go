package providers

import (
	"errors"
	"strings"
)

// PasswordSymbols lists the punctuation accepted as the required symbol.
const PasswordSymbols = "!@#$%^&*()"

// MinPasswordLength is the shortest password the policy accepts.
const MinPasswordLength = 8

// ErrWeakPassword is returned when a password fails the strength policy.
var ErrWeakPassword = errors.New("auth: password does not meet strength requirements")

// ValidatePasswordStrength enforces the password policy: at least
// MinPasswordLength characters including an ASCII lowercase letter, an ASCII
// uppercase letter, an ASCII digit and one of PasswordSymbols. Letters and
// digits outside ASCII count towards the length only.
func ValidatePasswordStrength(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ErrWeakPassword
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	if !lower || !upper || !digit || !symbol {
		return ErrWeakPassword
	}
	return nil
}
