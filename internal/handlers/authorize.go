package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/authz"
	"github.com/charlesng35/clinicauth/internal/middleware"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// AuthorizeHandler exposes gate decisions to clinic modules that sit in front
// of this service (forward-auth style).
type AuthorizeHandler struct {
	gate *authz.Gate
}

func NewAuthorizeHandler(gate *authz.Gate) *AuthorizeHandler {
	return &AuthorizeHandler{gate: gate}
}

type authorizeRequest struct {
	Permission string `json:"permission"`
	Route      string `json:"route" validate:"max=255"`
}

// POST /api/authorize
func (h *AuthorizeHandler) Authorize(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	var req authorizeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	subject := middleware.Subject(c)
	if req.Route != "" {
		subject.Route = req.Route
	}

	decision, err := h.gate.Authorize(requestContext(c), subject, req.Permission)
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, decision)
}
