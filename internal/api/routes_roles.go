package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

func registerRoleRoutes(api *gin.RouterGroup, handler *handlers.RoleHandler, gate *authz.Gate) {
	roles := api.Group("/roles")
	roles.Use(middleware.RequirePermission(gate, permissions.ManageRoles))
	{
		roles.GET("", handler.List)
		roles.POST("", handler.Create)
		roles.GET("/:id", handler.Get)
		roles.PUT("/:id", handler.Update)
		roles.DELETE("/:id", handler.Delete)
		roles.PUT("/:id/permissions", handler.SetPermissions)
		roles.POST("/:id/permissions/:permissionId", handler.AttachPermission)
		roles.DELETE("/:id/permissions/:permissionId", handler.DetachPermission)
	}
}
