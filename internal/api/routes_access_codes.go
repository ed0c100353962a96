package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

func registerAccessCodeRoutes(api *gin.RouterGroup, handler *handlers.AccessCodeHandler, gate *authz.Gate, throttle *middleware.Throttle) {
	manage := middleware.RequirePermission(gate, permissions.ManageRoles)
	active := middleware.RequirePermission(gate, "")

	codes := api.Group("/access-codes")
	{
		codes.GET("", manage, handler.List)
		codes.POST("", manage, handler.Generate)
		codes.POST("/:id/revoke", manage, handler.Revoke)
		codes.POST("/activate", active, throttle.Middleware(), handler.Activate)
	}
}
