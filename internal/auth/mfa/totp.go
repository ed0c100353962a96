package mfa

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
)

const (
	defaultIssuer          = "Clinic"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256
)

var (
	// ErrNotEnrolled is returned when a user has no stored second factor secret.
	ErrNotEnrolled = errors.New("totp: user is not enrolled")
	// ErrInvalidCode is returned when neither a TOTP code nor a backup code matches.
	ErrInvalidCode = errors.New("totp: invalid code")
)

// Option allows customising the TOTP service.
type Option func(*TOTPService)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated for users.
func WithBackupCodeCount(count int) Option {
	return func(s *TOTPService) {
		if count > 0 {
			s.backupCodes = count
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Enrollment is returned when a user starts second factor enrolment.
type Enrollment struct {
	Secret      string   `json:"secret"`
	URL         string   `json:"otpauth_url"`
	QRCodePNG   []byte   `json:"qr_code_png"`
	BackupCodes []string `json:"backup_codes"`
}

// TOTPService manages user second factor secrets, backup codes, and QR provisioning.
type TOTPService struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer      string
	backupCodes int
	qrCodeSize  int
	now         func() time.Time
}

// NewTOTPService constructs a TOTP service backed by the provided database.
func NewTOTPService(db *gorm.DB, encryptionKey []byte, opts ...Option) (*TOTPService, error) {
	if db == nil {
		return nil, errors.New("totp: db is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("totp: encryption key is required")
	}

	service := &TOTPService{
		db:            db,
		encryptionKey: encryptionKey,
		issuer:        defaultIssuer,
		backupCodes:   defaultBackupCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Enroll provisions a fresh secret and backup codes. The user's second factor
// stays disabled until Confirm succeeds with a code from the new secret.
func (s *TOTPService) Enroll(ctx context.Context, userID, username string) (*Enrollment, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		return nil, errors.New("totp: user id and username are required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: username,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}

	backupCodes := make([]string, s.backupCodes)
	hashedCodes := make([]string, s.backupCodes)
	for i := range backupCodes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		hash, err := crypto.HashPassword(code)
		if err != nil {
			return nil, fmt.Errorf("totp: hash backup code: %w", err)
		}
		backupCodes[i] = code
		hashedCodes[i] = hash
	}

	encryptedSecret, err := crypto.Encrypt([]byte(key.Secret()), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("totp: encrypt secret: %w", err)
	}

	codesJSON, err := json.Marshal(hashedCodes)
	if err != nil {
		return nil, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var secret models.MFASecret
		err := tx.Where("user_id = ?", userID).First(&secret).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			secret = models.MFASecret{
				UserID:      userID,
				Secret:      encryptedSecret,
				BackupCodes: datatypes.JSON(codesJSON),
			}
			if err := tx.Create(&secret).Error; err != nil {
				return fmt.Errorf("totp: create secret: %w", err)
			}
		case err != nil:
			return fmt.Errorf("totp: load secret: %w", err)
		default:
			if err := tx.Model(&secret).Updates(map[string]any{
				"secret":       encryptedSecret,
				"backup_codes": datatypes.JSON(codesJSON),
				"last_used_at": nil,
			}).Error; err != nil {
				return fmt.Errorf("totp: update secret: %w", err)
			}
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("mfa_enabled", false).Error
	})
	if err != nil {
		return nil, err
	}

	png, err := s.qrCode(key)
	if err != nil {
		return nil, fmt.Errorf("totp: qr code: %w", err)
	}

	return &Enrollment{
		Secret:      key.Secret(),
		URL:         key.URL(),
		QRCodePNG:   png,
		BackupCodes: backupCodes,
	}, nil
}

// Confirm enables the second factor once the user proves possession of the secret.
func (s *TOTPService) Confirm(ctx context.Context, userID, code string) error {
	ok, err := s.verifyTOTP(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("mfa_enabled", true).Error
}

// Disable removes the stored secret and turns the second factor off.
func (s *TOTPService) Disable(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.MFASecret{}).Error; err != nil {
			return fmt.Errorf("totp: delete secret: %w", err)
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("mfa_enabled", false).Error
	})
}

// Verify accepts either a current TOTP code or an unused backup code.
// A matching backup code is consumed.
func (s *TOTPService) Verify(ctx context.Context, userID, code string) error {
	ok, err := s.verifyTOTP(ctx, userID, code)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	ok, err = s.useBackupCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// RemainingBackupCodes returns the number of backup codes still available.
func (s *TOTPService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	secret, err := s.loadSecret(ctx, strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}

	hashedCodes, err := decodeBackupCodes(secret.BackupCodes)
	if err != nil {
		return 0, err
	}
	return len(hashedCodes), nil
}

func (s *TOTPService) verifyTOTP(ctx context.Context, userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, ErrInvalidCode
	}

	secret, err := s.loadSecret(ctx, userID)
	if err != nil {
		return false, err
	}

	rawSecret, err := crypto.Decrypt(secret.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}

	now := s.now()
	valid, err := totp.ValidateCustom(code, string(rawSecret), now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Model(secret).Update("last_used_at", now).Error; err != nil {
		return false, fmt.Errorf("totp: update last used: %w", err)
	}
	return true, nil
}

func (s *TOTPService) useBackupCode(ctx context.Context, userID, code string) (bool, error) {
	secret, err := s.loadSecret(ctx, strings.TrimSpace(userID))
	if err != nil {
		return false, err
	}

	hashedCodes, err := decodeBackupCodes(secret.BackupCodes)
	if err != nil {
		return false, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	index := -1
	for i, stored := range hashedCodes {
		if crypto.VerifyPassword(stored, code) {
			index = i
			break
		}
	}
	if index < 0 {
		return false, nil
	}

	hashedCodes = append(hashedCodes[:index], hashedCodes[index+1:]...)
	encoded, err := json.Marshal(hashedCodes)
	if err != nil {
		return false, fmt.Errorf("totp: marshal backup codes: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(secret).Update("backup_codes", datatypes.JSON(encoded)).Error; err != nil {
		return false, fmt.Errorf("totp: update backup codes: %w", err)
	}
	return true, nil
}

func (s *TOTPService) qrCode(key *otp.Key) ([]byte, error) {
	return qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
}

func (s *TOTPService) loadSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	if userID == "" {
		return nil, errors.New("totp: user id is required")
	}

	var secret models.MFASecret
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("totp: load secret: %w", err)
	}

	return &secret, nil
}

func decodeBackupCodes(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, fmt.Errorf("totp: unmarshal backup codes: %w", err)
	}
	return codes, nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}

	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}
