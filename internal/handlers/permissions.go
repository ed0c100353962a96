package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/response"
)

type PermissionHandler struct {
	db   *gorm.DB
	gate *authz.Gate
}

func NewPermissionHandler(db *gorm.DB, gate *authz.Gate) *PermissionHandler {
	return &PermissionHandler{db: db, gate: gate}
}

// GET /api/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	var perms []models.Permission
	if err := h.db.WithContext(requestContext(c)).Order("module ASC, id ASC").Find(&perms).Error; err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, perms)
}

// GET /api/permissions/me
func (h *PermissionHandler) Mine(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	effective, err := h.gate.Effective(requestContext(c), middleware.Subject(c))
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, effective)
}
