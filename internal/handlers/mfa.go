package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/auth/mfa"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/response"
)

var errMFAUnavailable = apperrors.New("MFA_UNAVAILABLE", "Second factor is not configured on this server", http.StatusServiceUnavailable)

// MFAHandler manages TOTP enrolment for the authenticated user. With no
// encryption key configured every endpoint answers 503.
type MFAHandler struct {
	db    *gorm.DB
	totp  *mfa.TOTPService
	audit *services.AuditService
}

func NewMFAHandler(db *gorm.DB, totp *mfa.TOTPService, audit *services.AuditService) *MFAHandler {
	return &MFAHandler{db: db, totp: totp, audit: audit}
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type enrollmentResponse struct {
	Secret      string   `json:"secret"`
	URL         string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// GET /api/mfa/status
func (h *MFAHandler) Status(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	payload := gin.H{"available": h.totp != nil, "enabled": user.MFAEnabled, "backup_codes_remaining": 0}
	if h.totp != nil && user.MFAEnabled {
		remaining, err := h.totp.RemainingBackupCodes(requestContext(c), user.ID)
		if err != nil {
			response.Error(c, translateError(err))
			return
		}
		payload["backup_codes_remaining"] = remaining
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/mfa/setup
func (h *MFAHandler) Setup(c *gin.Context) {
	if h.totp == nil {
		response.Error(c, errMFAUnavailable)
		return
	}
	user, ok := h.user(c)
	if !ok {
		return
	}
	if user.MFAEnabled {
		response.Error(c, apperrors.ErrConflict.WithMessage("Second factor is already enabled"))
		return
	}

	enrollment, err := h.totp.Enroll(requestContext(c), user.ID, user.Username)
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	response.Success(c, http.StatusOK, enrollmentResponse{
		Secret:      enrollment.Secret,
		URL:         enrollment.URL,
		QRCode:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(enrollment.QRCodePNG),
		BackupCodes: enrollment.BackupCodes,
	})
}

// POST /api/mfa/enable
func (h *MFAHandler) Enable(c *gin.Context) {
	h.transition(c, "mfa.enable", func(userID, code string) error {
		return h.totp.Confirm(requestContext(c), userID, code)
	})
}

// POST /api/mfa/disable
func (h *MFAHandler) Disable(c *gin.Context) {
	h.transition(c, "mfa.disable", func(userID, code string) error {
		if err := h.totp.Verify(requestContext(c), userID, code); err != nil {
			return err
		}
		return h.totp.Disable(requestContext(c), userID)
	})
}

func (h *MFAHandler) transition(c *gin.Context, action string, apply func(userID, code string) error) {
	if h.totp == nil {
		response.Error(c, errMFAUnavailable)
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req mfaCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := apply(userID, req.Code); err != nil {
		services.RecordAudit(h.audit, requestContext(c), services.AuditEntry{
			Action:   action,
			Resource: "user:" + userID,
			Result:   services.AuditResultFailure,
		})
		response.Error(c, translateError(err))
		return
	}

	services.RecordAudit(h.audit, requestContext(c), services.AuditEntry{
		Action:   action,
		Resource: "user:" + userID,
		Result:   services.AuditResultSuccess,
	})
	response.Success(c, http.StatusOK, gin.H{"enabled": action == "mfa.enable"})
}

func (h *MFAHandler) user(c *gin.Context) (*models.User, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return nil, false
	}

	var user models.User
	if err := h.db.WithContext(requestContext(c)).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.ErrUnauthorized)
			return nil, false
		}
		response.Error(c, translateError(err))
		return nil, false
	}
	return &user, true
}
