package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/app"
	"github.com/charlesng35/clinicauth/internal/database"
	"github.com/charlesng35/clinicauth/internal/models"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	minJWTSecretBytes     = 32
	maxRefreshTTL         = 30 * 24 * time.Hour
	maxAccessCodeDuration = 7 * 24 * time.Hour
	recommendedCodeLength = 8
)

// Check contains the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed outright.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// PostureService reviews the deployment's security configuration: signing
// secrets, key material, token lifetimes and the presence of an administrator.
type PostureService struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewPostureService constructs the reviewer. A nil db or cfg degrades the
// affected checks to warnings.
func NewPostureService(db *gorm.DB, cfg *app.Config) *PostureService {
	return &PostureService{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used in results.
func (s *PostureService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes every check.
func (s *PostureService) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		s.checkAdministrator(ctx),
		s.checkJWTSecret(),
		s.checkEncryptionKey(),
		s.checkRefreshTTL(),
		s.checkAccessCodes(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *PostureService) checkAdministrator(ctx context.Context) Check {
	const id = "active_administrator"
	if s.db == nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Database unavailable; cannot confirm an administrator exists",
			Remediation: "Restore database connectivity and rerun the review.",
		}
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.name = ? AND users.is_active = ?", database.AdminRoleName, true).
		Count(&count).Error
	if err != nil {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not count administrators: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	if count == 0 {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "No active user holds the admin role",
			Remediation: "Run `clinicctl create-admin` to restore administrative access.",
		}
	}

	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: "An active administrator exists",
		Details: map[string]any{"count": count},
	}
}

func (s *PostureService) checkJWTSecret() Check {
	const id = "jwt_secret_strength"
	if s.cfg == nil {
		return missingConfig(id)
	}

	length := len(strings.TrimSpace(s.cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     "Access tokens have no signing secret",
			Remediation: "Set CLINICAUTH_AUTH_JWT_SECRET to a random value of at least 32 bytes.",
		}
	case length < minJWTSecretBytes:
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("Signing secret is too short (%d bytes)", length),
			Remediation: "Use a random secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      id,
			Status:  StatusPass,
			Message: fmt.Sprintf("Signing secret is %d bytes", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *PostureService) checkEncryptionKey() Check {
	const id = "encryption_key"
	if s.cfg == nil {
		return missingConfig(id)
	}

	if strings.TrimSpace(s.cfg.Security.EncryptionKey) == "" {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "No encryption key configured; second factor enrolment is disabled",
			Remediation: "Set CLINICAUTH_SECURITY_ENCRYPTION_KEY to 32 random bytes (hex or base64).",
		}
	}

	if _, err := s.cfg.Security.EncryptionKeyBytes(); err != nil {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     err.Error(),
			Remediation: "Generate a key with 32 random bytes, hex encoded.",
		}
	}

	return Check{ID: id, Status: StatusPass, Message: "Encryption key configured"}
}

func (s *PostureService) checkRefreshTTL() Check {
	const id = "session_refresh_ttl"
	if s.cfg == nil {
		return missingConfig(id)
	}

	ttl := s.cfg.Auth.Session.RefreshTTL
	switch {
	case ttl <= 0:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Refresh token lifetime is not configured; the default applies",
			Remediation: "Set auth.session.refresh_token_ttl explicitly.",
		}
	case ttl > maxRefreshTTL:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token lifetime %s exceeds %s", ttl, maxRefreshTTL),
			Remediation: "Shorten auth.session.refresh_token_ttl.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	default:
		return Check{
			ID:      id,
			Status:  StatusPass,
			Message: fmt.Sprintf("Refresh token lifetime is %s", ttl),
			Details: map[string]any{"ttl": ttl.String()},
		}
	}
}

func (s *PostureService) checkAccessCodes() Check {
	const id = "access_code_policy"
	if s.cfg == nil {
		return missingConfig(id)
	}

	codes := s.cfg.AccessCodes
	details := map[string]any{
		"code_length":  codes.CodeLength,
		"max_duration": codes.MaxDuration.String(),
	}
	switch {
	case codes.CodeLength > 0 && codes.CodeLength < recommendedCodeLength:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access codes are only %d characters long", codes.CodeLength),
			Remediation: "Raise access_codes.code_length to at least 8.",
			Details:     details,
		}
	case codes.MaxDuration > maxAccessCodeDuration:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Temporary grants may last up to %s", codes.MaxDuration),
			Remediation: "Lower access_codes.max_duration; long grants defeat the purpose of temporary access.",
			Details:     details,
		}
	case codes.ActivationRate <= 0:
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Access code activation is not throttled",
			Remediation: "Set access_codes.activation_rate to slow down code guessing.",
			Details:     details,
		}
	default:
		return Check{ID: id, Status: StatusPass, Message: "Access code policy within limits", Details: details}
	}
}

func missingConfig(id string) Check {
	return Check{
		ID:          id,
		Status:      StatusWarn,
		Message:     "Configuration not loaded",
		Remediation: "Load configuration before running the review.",
	}
}
