package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/handlers"
	"github.com/charlesng35/clinicauth/internal/middleware"
)

// Profile routes need an active account but no particular permission.
func registerProfileRoutes(api *gin.RouterGroup, mfa *handlers.MFAHandler, profile *handlers.ProfileHandler, gate *authz.Gate) {
	active := middleware.RequirePermission(gate, "")

	second := api.Group("/mfa", active)
	{
		second.GET("/status", mfa.Status)
		second.POST("/setup", mfa.Setup)
		second.POST("/enable", mfa.Enable)
		second.POST("/disable", mfa.Disable)
	}

	api.POST("/profile/password", active, profile.ChangePassword)
}
