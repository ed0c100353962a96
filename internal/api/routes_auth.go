package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.AuthHandler, gate *authz.Gate, limit gin.HandlerFunc) {
	auth := engine.Group("/api/auth")
	auth.Use(limit)
	{
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/register", handler.Register)
	}

	api.GET("/auth/me", middleware.RequirePermission(gate, ""), handler.Me)
	api.POST("/auth/logout", handler.Logout)
}

func registerAuthorizeRoutes(api *gin.RouterGroup, authorize *handlers.AuthorizeHandler, perms *handlers.PermissionHandler) {
	api.POST("/authorize", authorize.Authorize)
	api.GET("/permissions", perms.List)
	api.GET("/permissions/me", perms.Mine)
}
