package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.AuditHandler, gate *authz.Gate) {
	audit := api.Group("/audit")
	audit.Use(middleware.RequirePermission(gate, permissions.ManageUsers))
	{
		audit.GET("", handler.List)
		audit.GET("/export", handler.Export)
	}
}

func registerSecurityRoutes(api *gin.RouterGroup, handler *handlers.SecurityHandler, gate *authz.Gate) {
	sec := api.Group("/security")
	sec.Use(middleware.RequirePermission(gate, permissions.ManageUsers))
	{
		sec.GET("/audit", handler.Audit)
	}
}
