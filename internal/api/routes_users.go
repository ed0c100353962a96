package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler, roles *handlers.RoleHandler, gate *authz.Gate) {
	manageUsers := middleware.RequirePermission(gate, permissions.ManageUsers)
	manageRoles := middleware.RequirePermission(gate, permissions.ManageRoles)

	users := api.Group("/users")
	{
		users.GET("", manageUsers, handler.List)
		users.POST("", manageUsers, handler.Create)
		users.GET("/:id", manageUsers, handler.Get)
		users.PATCH("/:id", manageUsers, handler.Update)
		users.PATCH("/:id/active", manageUsers, handler.SetActive)
		users.POST("/:id/password", manageUsers, handler.ResetPassword)
		users.POST("/:id/roles/:roleId", manageRoles, roles.AssignRole)
		users.DELETE("/:id/roles/:roleId", manageRoles, roles.RevokeRole)
	}
}
