package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// AccessCodeHandler issues, redeems and revokes temporary access codes.
type AccessCodeHandler struct {
	svc *services.AccessCodeService
}

func NewAccessCodeHandler(svc *services.AccessCodeService) *AccessCodeHandler {
	return &AccessCodeHandler{svc: svc}
}

type generateCodeRequest struct {
	PermissionID    string `json:"permission" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gte=1"`
	UseType         string `json:"use_type" validate:"omitempty,oneof=single-use multi-use"`
	BoundUserID     string `json:"bound_user_id"`
}

type activateCodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// GET /api/access-codes
func (h *AccessCodeHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)
	activeOnly, _ := strconv.ParseBool(c.Query("active"))

	codes, total, err := h.svc.List(requestContext(c), services.AccessCodeListOptions{
		Page:       page,
		PerPage:    per,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, codes, response.NewMeta(page, per, total))
}

// POST /api/access-codes
func (h *AccessCodeHandler) Generate(c *gin.Context) {
	var req generateCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.UseType == "" {
		req.UseType = models.UseTypeSingle
	}

	code, err := h.svc.Generate(requestContext(c), services.GenerateCodeInput{
		PermissionID:    req.PermissionID,
		DurationMinutes: req.DurationMinutes,
		UseType:         req.UseType,
		BoundUserID:     req.BoundUserID,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusCreated, code)
}

// POST /api/access-codes/:id/revoke
func (h *AccessCodeHandler) Revoke(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Revoke(requestContext(c), c.Param("id"), actorID); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": c.Param("id"), "revoked": true})
}

// POST /api/access-codes/activate
func (h *AccessCodeHandler) Activate(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	sessionID := currentSessionID(c)
	if sessionID == "" {
		response.Error(c, apperrors.ErrUnauthorized.WithMessage("Activation requires a session token"))
		return
	}

	var req activateCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.svc.Activate(requestContext(c), services.ActivateCodeInput{
		Code:      req.Code,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, grant)
}
