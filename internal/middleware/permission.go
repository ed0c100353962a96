package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// CtxDecisionKey holds the authz.Decision that admitted the request.
const CtxDecisionKey = "authzDecision"

// RequirePermission admits the request only when the gate allows the
// authenticated session to exercise permissionID. It must run after Auth.
func RequirePermission(gate *authz.Gate, permissionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		decision, err := gate.Authorize(c.Request.Context(), Subject(c), permissionID)
		if err != nil {
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) {
				err = apperrors.ErrInternalServer.WithInternal(err)
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxDecisionKey, decision)
		c.Next()
	}
}

// Subject builds the authz subject for the authenticated request.
func Subject(c *gin.Context) authz.Subject {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return authz.Subject{
		UserID:    c.GetString(CtxUserIDKey),
		SessionID: c.GetString(CtxSessionIDKey),
		Route:     c.Request.Method + " " + route,
	}
}
