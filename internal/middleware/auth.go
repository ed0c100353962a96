package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/auditctx"
	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/metrics"
	"github.com/charlesng35/clinicauth/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
)

// Token rejection reasons.
const (
	rejectMissing = "missing"
	rejectInvalid = "invalid"
	rejectExpired = "expired"
)

// ClientContext records the caller's address and agent on the request context
// so audit entries written before authentication can attribute them.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithClient(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Auth enforces bearer token authentication. Rejections are counted and
// audited as auth.token_rejected. audit may be nil.
func Auth(jwt *iauth.JWTService, audit *services.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			reason := rejectInvalid
			appErr := apperrors.ErrUnauthorized
			switch {
			case errors.Is(err, iauth.ErrTokenMissing):
				reason = rejectMissing
			case errors.Is(err, iauth.ErrTokenExpired):
				reason = rejectExpired
				appErr = apperrors.ErrTokenExpired
			}

			metrics.TokenRejections.WithLabelValues(reason).Inc()
			services.RecordAudit(audit, c.Request.Context(), services.AuditEntry{
				Action:    "auth.token_rejected",
				Resource:  c.Request.URL.Path,
				Result:    services.AuditResultFailure,
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				Metadata:  map[string]any{"reason": reason},
			})

			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, appErr)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			UserID:    claims.UserID,
			Username:  claims.Username,
			SessionID: claims.SessionID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func bearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
