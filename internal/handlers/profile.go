package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/services"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// ProfileHandler serves self-service account changes.
type ProfileHandler struct {
	local *providers.LocalProvider
	audit *services.AuditService
}

func NewProfileHandler(local *providers.LocalProvider, audit *services.AuditService) *ProfileHandler {
	return &ProfileHandler{local: local, audit: audit}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// POST /api/profile/password
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	if err := h.local.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		services.RecordAudit(h.audit, ctx, services.AuditEntry{
			Action:   "profile.password_change",
			Resource: "user:" + userID,
			Result:   services.AuditResultFailure,
		})
		response.Error(c, translateError(err))
		return
	}

	services.RecordAudit(h.audit, ctx, services.AuditEntry{
		Action:   "profile.password_change",
		Resource: "user:" + userID,
		Result:   services.AuditResultSuccess,
	})
	response.Success(c, http.StatusOK, gin.H{"changed": true})
}
