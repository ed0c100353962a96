package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/auditctx"
	"github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/logger"
	"github.com/charlesng35/clinicauth/pkg/metrics"
)

const (
	// DefaultCodeLength is the number of characters in a generated code.
	DefaultCodeLength = 10
	// DefaultMaxCodeDuration caps how long a code may stay valid.
	DefaultMaxCodeDuration = 24 * time.Hour

	maxGenerateAttempts = 5
	maxClaimAttempts    = 3
)

// Activation failures. They are the shared application errors so handlers can
// render them without translation.
var (
	ErrCodeNotFound    = apperrors.ErrCodeNotFound
	ErrCodeExpired     = apperrors.ErrCodeExpired
	ErrCodeAlreadyUsed = apperrors.ErrCodeAlreadyUsed
	ErrCodeNotAssigned = apperrors.ErrCodeNotAssigned
)

// Activation outcome reasons recorded in audit metadata and metrics.
const (
	reasonNotFound    = "not_found"
	reasonExpired     = "expired"
	reasonNotAssigned = "not_assigned"
	reasonAlreadyUsed = "already_used"
	reasonGrantStore  = "grant_store"

	reasonInvalidRequest  = "invalid_request"
	reasonUnknownUser     = "unknown_user"
	reasonAccountInactive = "account_inactive"
	reasonSessionInactive = "session_inactive"
)

// ActionActivateCode is the audit action for code activations, including
// requests rejected before they reach the service.
const ActionActivateCode = "access_code.activate"

// SessionLiveness reports whether a login session is still live.
type SessionLiveness interface {
	ActiveSession(ctx context.Context, sessionID string) (bool, error)
}

// AccessCodeConfig bounds code issuance. When Sessions is set, activations
// from sessions that have ended are refused.
type AccessCodeConfig struct {
	CodeLength  int
	MaxDuration time.Duration
	Clock       func() time.Time
	Sessions    SessionLiveness
}

// GenerateCodeInput describes a code to issue. BoundUserID is optional.
type GenerateCodeInput struct {
	PermissionID    string
	DurationMinutes int
	UseType         string
	BoundUserID     string
}

// ActivateCodeInput identifies the code being redeemed and the session that
// receives the resulting grant.
type ActivateCodeInput struct {
	Code      string
	UserID    string
	SessionID string
}

// AccessCodeListOptions controls code listing.
type AccessCodeListOptions struct {
	Page       int
	PerPage    int
	ActiveOnly bool
}

// AccessCodeService issues, redeems and revokes temporary access codes.
type AccessCodeService struct {
	db           *gorm.DB
	grants       auth.GrantStore
	auditService *AuditService
	sessions     SessionLiveness
	codeLength   int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewAccessCodeService constructs the service. grants receives the session
// grants installed by successful activations.
func NewAccessCodeService(db *gorm.DB, grants auth.GrantStore, auditService *AuditService, cfg AccessCodeConfig) (*AccessCodeService, error) {
	if db == nil {
		return nil, errors.New("access code service: db is required")
	}
	if grants == nil {
		return nil, errors.New("access code service: grant store is required")
	}

	if cfg.CodeLength <= 0 {
		cfg.CodeLength = DefaultCodeLength
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxCodeDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &AccessCodeService{
		db:           db,
		grants:       grants,
		auditService: auditService,
		sessions:     cfg.Sessions,
		codeLength:   cfg.CodeLength,
		maxDuration:  cfg.MaxDuration,
		now:          cfg.Clock,
	}, nil
}

// Generate issues a new code for a single permission.
func (s *AccessCodeService) Generate(ctx context.Context, input GenerateCodeInput) (*models.TemporaryAccessCode, error) {
	ctx = ensureContext(ctx)

	permissionID := strings.TrimSpace(input.PermissionID)
	if permissionID == "" {
		return nil, apperrors.NewBadRequest("permission is required")
	}

	duration := time.Duration(input.DurationMinutes) * time.Minute
	if input.DurationMinutes < 1 || duration > s.maxDuration {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("duration must be between 1 and %d minutes", int(s.maxDuration/time.Minute)))
	}

	useType := strings.TrimSpace(input.UseType)
	switch useType {
	case "":
		useType = models.UseTypeSingle
	case models.UseTypeSingle, models.UseTypeMulti:
	default:
		return nil, apperrors.NewBadRequest("use type must be single-use or multi-use")
	}

	var permission models.Permission
	if err := s.db.WithContext(ctx).First(&permission, "id = ?", permissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPermissionNotFound
		}
		return nil, fmt.Errorf("access code service: load permission: %w", err)
	}

	var boundUserID *string
	if bound := strings.TrimSpace(input.BoundUserID); bound != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", bound).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("access code service: load bound user: %w", err)
		}
		if count == 0 {
			return nil, ErrUserNotFound
		}
		boundUserID = &bound
	}

	var createdBy *string
	if actor, ok := auditctx.FromContext(ctx); ok && actor.UserID != "" {
		id := actor.UserID
		createdBy = &id
	}

	now := s.now().UTC()
	record := &models.TemporaryAccessCode{
		BaseModel:    models.BaseModel{CreatedAt: now},
		PermissionID: permission.ID,
		BoundUserID:  boundUserID,
		CreatedBy:    createdBy,
		ExpiresAt:    now.Add(duration),
		UseType:      useType,
		IsActive:     true,
	}

	var lastErr error
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := crypto.GenerateCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("access code service: generate code: %w", err)
		}
		record.ID = ""
		record.Code = code

		lastErr = s.db.WithContext(ctx).Create(record).Error
		if lastErr == nil {
			break
		}
		if !isUniqueConstraintError(lastErr) {
			return nil, fmt.Errorf("access code service: create code: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("access code service: exhausted code generation attempts: %w", lastErr)
	}
	record.Permission = &permission

	metrics.CodesGenerated.WithLabelValues(useType).Inc()

	metadata := map[string]any{
		"permission": permission.ID,
		"use_type":   useType,
		"expires_at": record.ExpiresAt.Format(time.RFC3339),
	}
	if boundUserID != nil {
		metadata["bound_user_id"] = *boundUserID
	}
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "access_code.generate",
		Resource: record.ID,
		Result:   AuditResultSuccess,
		Metadata: metadata,
	})

	return record, nil
}

// Activate redeems a code for the caller's session and returns the grant it
// installed.
func (s *AccessCodeService) Activate(ctx context.Context, input ActivateCodeInput) (*auth.Grant, error) {
	ctx = ensureContext(ctx)

	code := NormaliseCode(input.Code)
	if code == "" {
		return nil, s.rejectActivation(ctx, input, nil, reasonInvalidRequest, apperrors.NewBadRequest("code is required"))
	}
	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.SessionID) == "" {
		return nil, s.rejectActivation(ctx, input, nil, reasonInvalidRequest, apperrors.ErrUnauthorized)
	}
	if err := s.checkRedeemer(ctx, input); err != nil {
		return nil, err
	}

	var record models.TemporaryAccessCode
	err := s.db.WithContext(ctx).First(&record, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.rejectActivation(ctx, input, nil, reasonNotFound, ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("access code service: load code: %w", err)
	}

	return s.consume(ctx, input, &record)
}

// checkRedeemer refuses activations by accounts that are missing or
// deactivated and by sessions that have ended, before any use is consumed.
func (s *AccessCodeService) checkRedeemer(ctx context.Context, input ActivateCodeInput) error {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "is_active").Take(&user, "id = ?", input.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.rejectActivation(ctx, input, nil, reasonUnknownUser, apperrors.ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("access code service: load user: %w", err)
	}
	if !user.IsActive {
		return s.rejectActivation(ctx, input, nil, reasonAccountInactive, apperrors.ErrUnauthorized)
	}

	if s.sessions == nil {
		return nil
	}
	active, err := s.sessions.ActiveSession(ctx, input.SessionID)
	if err != nil {
		return fmt.Errorf("access code service: session status: %w", err)
	}
	if !active {
		return s.rejectActivation(ctx, input, nil, reasonSessionInactive, apperrors.ErrUnauthorized)
	}
	return nil
}

// consume classifies snapshot, claims it with a conditional update and
// installs the grant. A claim that matches no row means the snapshot went
// stale; the row is re-read and classified again.
func (s *AccessCodeService) consume(ctx context.Context, input ActivateCodeInput, snapshot *models.TemporaryAccessCode) (*auth.Grant, error) {
	now := s.now()

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		if reason, err := classifyCode(snapshot, input.UserID, now); err != nil {
			return nil, s.rejectActivation(ctx, input, snapshot, reason, err)
		}

		claimed, err := s.claim(ctx, snapshot, now)
		if err != nil {
			return nil, err
		}
		if claimed {
			return s.installGrant(ctx, input, snapshot, now)
		}

		var fresh models.TemporaryAccessCode
		err = s.db.WithContext(ctx).First(&fresh, "id = ?", snapshot.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, s.rejectActivation(ctx, input, snapshot, reasonNotFound, ErrCodeNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("access code service: reload code: %w", err)
		}
		snapshot = &fresh
	}

	return nil, fmt.Errorf("access code service: code %s changed during activation", snapshot.ID)
}

// claim performs the single conditional update that consumes one use of the
// code. It reports false when the row no longer satisfies the preconditions.
func (s *AccessCodeService) claim(ctx context.Context, code *models.TemporaryAccessCode, now time.Time) (bool, error) {
	updates := map[string]any{
		"times_used":   gorm.Expr("times_used + ?", 1),
		"last_used_at": now.UTC(),
	}

	query := s.db.WithContext(ctx).
		Model(&models.TemporaryAccessCode{}).
		Where("id = ? AND is_active = ? AND expires_at > ?", code.ID, true, now.UTC())
	if code.SingleUse() {
		updates["is_active"] = false
		query = query.Where("times_used = ?", 0)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("access code service: claim code: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// release undoes a claim whose grant could not be installed. A single-use
// code revoked in the meantime stays inactive.
func (s *AccessCodeService) release(ctx context.Context, code *models.TemporaryAccessCode) error {
	updates := map[string]any{
		"times_used": gorm.Expr("times_used - ?", 1),
	}
	if code.SingleUse() {
		updates["is_active"] = gorm.Expr("CASE WHEN revoked_at IS NULL THEN ? ELSE ? END", true, false)
	}

	return s.db.WithContext(ctx).
		Model(&models.TemporaryAccessCode{}).
		Where("id = ? AND times_used > ?", code.ID, 0).
		Updates(updates).Error
}

func (s *AccessCodeService) installGrant(ctx context.Context, input ActivateCodeInput, code *models.TemporaryAccessCode, now time.Time) (*auth.Grant, error) {
	grant := auth.Grant{
		Permission: code.PermissionID,
		CodeID:     code.ID,
		ExpiresAt:  code.ExpiresAt.UTC(),
	}

	if err := s.grants.Put(ctx, input.SessionID, grant); err != nil {
		if releaseErr := s.release(ctx, code); releaseErr != nil {
			logger.WithModule("access_codes").Error("failed to release claimed code",
				zap.String("code_id", code.ID),
				zap.Error(releaseErr),
			)
		}
		s.recordActivation(ctx, input, code, AuditResultFailure, reasonGrantStore)
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("access code service: install grant: %w", err))
	}

	s.recordActivation(ctx, input, code, AuditResultSuccess, "")
	logger.WithModule("access_codes").Info("access code activated",
		zap.String("code_id", code.ID),
		zap.String("permission", code.PermissionID),
		zap.String("user_id", input.UserID),
		zap.Duration("remaining", code.ExpiresAt.Sub(now)),
	)

	return &grant, nil
}

func (s *AccessCodeService) rejectActivation(ctx context.Context, input ActivateCodeInput, code *models.TemporaryAccessCode, reason string, err error) error {
	s.recordActivation(ctx, input, code, AuditResultFailure, reason)
	return err
}

func (s *AccessCodeService) recordActivation(ctx context.Context, input ActivateCodeInput, code *models.TemporaryAccessCode, result, reason string) {
	label := result
	if reason != "" {
		label = reason
	}
	metrics.CodeActivations.WithLabelValues(label).Inc()

	metadata := map[string]any{
		"session_id": input.SessionID,
	}
	if reason != "" {
		metadata["reason"] = reason
	}

	resource := ""
	if code != nil {
		resource = code.ID
		metadata["permission"] = code.PermissionID
		metadata["use_type"] = code.UseType
	}

	entry := AuditEntry{
		Action:   ActionActivateCode,
		Resource: resource,
		Result:   result,
		Metadata: metadata,
	}
	switch {
	case reason == reasonUnknownUser:
		metadata["subject"] = input.UserID
		ctx = auditctx.WithoutUser(ctx)
	case strings.TrimSpace(input.UserID) != "":
		userID := input.UserID
		entry.UserID = &userID
	}
	recordAudit(s.auditService, ctx, entry)
}

// Revoke deactivates a code. Grants it already installed stop being honoured
// at their next check. Revoking an inactive code is a no-op.
func (s *AccessCodeService) Revoke(ctx context.Context, codeID, actorID string) error {
	ctx = ensureContext(ctx)

	var record models.TemporaryAccessCode
	err := s.db.WithContext(ctx).First(&record, "id = ?", codeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("access code service: load code: %w", err)
	}

	if record.RevokedAt != nil {
		return nil
	}

	updates := map[string]any{
		"is_active":  false,
		"revoked_at": s.now().UTC(),
	}
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		updates["revoked_by"] = actorID
	}

	if err := s.db.WithContext(ctx).
		Model(&models.TemporaryAccessCode{}).
		Where("id = ? AND revoked_at IS NULL", record.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("access code service: revoke code: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "access_code.revoke",
		Resource: record.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"permission": record.PermissionID,
			"was_active": record.IsActive,
			"times_used": record.TimesUsed,
		},
	})

	return nil
}

// Revoked reports whether the code has been revoked. Unknown codes count as
// revoked so their grants are never honoured.
func (s *AccessCodeService) Revoked(ctx context.Context, codeID string) (bool, error) {
	ctx = ensureContext(ctx)

	var record models.TemporaryAccessCode
	err := s.db.WithContext(ctx).Select("id", "revoked_at").First(&record, "id = ?", codeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("access code service: load code: %w", err)
	}
	return record.RevokedAt != nil, nil
}

// List returns codes newest first with their permission loaded.
func (s *AccessCodeService) List(ctx context.Context, opts AccessCodeListOptions) ([]models.TemporaryAccessCode, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage := paginate(opts.Page, opts.PerPage, 50, 200)

	query := s.db.WithContext(ctx).Model(&models.TemporaryAccessCode{})
	if opts.ActiveOnly {
		query = query.Where("is_active = ? AND expires_at > ?", true, s.now().UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("access code service: count codes: %w", err)
	}

	var codes []models.TemporaryAccessCode
	if err := query.
		Preload("Permission").
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&codes).Error; err != nil {
		return nil, 0, fmt.Errorf("access code service: list codes: %w", err)
	}

	return codes, total, nil
}

// NormaliseCode upper-cases a code and strips the separators people add when
// reading it out.
func NormaliseCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

func classifyCode(code *models.TemporaryAccessCode, userID string, now time.Time) (string, error) {
	if !code.IsActive && !code.Consumed() {
		return reasonNotFound, ErrCodeNotFound
	}
	if code.ExpiredAt(now) {
		return reasonExpired, ErrCodeExpired
	}
	if code.BoundUserID != nil && *code.BoundUserID != userID {
		return reasonNotAssigned, ErrCodeNotAssigned
	}
	if code.Consumed() {
		return reasonAlreadyUsed, ErrCodeAlreadyUsed
	}
	return "", nil
}
