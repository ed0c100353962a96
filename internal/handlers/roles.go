package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/services"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// RoleHandler exposes role administration and role assignment.
type RoleHandler struct {
	svc *services.RoleService
}

func NewRoleHandler(svc *services.RoleService) *RoleHandler {
	return &RoleHandler{svc: svc}
}

type createRoleRequest struct {
	Name          string   `json:"name" validate:"required,max=64"`
	Description   string   `json:"description" validate:"max=255"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateRoleRequest struct {
	Name        string  `json:"name" validate:"max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

type rolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.svc.ListRoles(requestContext(c))
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, roles)
}

// GET /api/roles/:id
func (h *RoleHandler) Get(c *gin.Context) {
	role, err := h.svc.GetRole(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, role)
}

// POST /api/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var req createRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, err := h.svc.CreateRole(requestContext(c), services.CreateRoleInput{
		Name:          req.Name,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusCreated, role)
}

// PUT /api/roles/:id
func (h *RoleHandler) Update(c *gin.Context) {
	var req updateRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, err := h.svc.UpdateRole(requestContext(c), c.Param("id"), services.UpdateRoleInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, role)
}

// DELETE /api/roles/:id
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteRole(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// PUT /api/roles/:id/permissions
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	var req rolePermissionsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	if err := h.svc.SetRolePermissions(ctx, c.Param("id"), req.PermissionIDs); err != nil {
		response.Error(c, translateError(err))
		return
	}

	role, err := h.svc.GetRole(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, role)
}

// POST /api/roles/:id/permissions/:permissionId
func (h *RoleHandler) AttachPermission(c *gin.Context) {
	if err := h.svc.AttachPermission(requestContext(c), c.Param("id"), c.Param("permissionId")); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attached": true})
}

// DELETE /api/roles/:id/permissions/:permissionId
func (h *RoleHandler) DetachPermission(c *gin.Context) {
	if err := h.svc.DetachPermission(requestContext(c), c.Param("id"), c.Param("permissionId")); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"detached": true})
}

// POST /api/users/:id/roles/:roleId
func (h *RoleHandler) AssignRole(c *gin.Context) {
	if err := h.svc.AssignRole(requestContext(c), c.Param("id"), c.Param("roleId")); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assigned": true})
}

// DELETE /api/users/:id/roles/:roleId
func (h *RoleHandler) RevokeRole(c *gin.Context) {
	if err := h.svc.RevokeRole(requestContext(c), c.Param("id"), c.Param("roleId")); err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
