package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/auth/mfa"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/metrics"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// AuthHandler manages authentication flows (login/refresh/register/logout/me).
type AuthHandler struct {
	db       *gorm.DB
	jwt      *iauth.JWTService
	sessions *iauth.SessionService
	local    *providers.LocalProvider
	checker  *permissions.Checker
	totp     *mfa.TOTPService
	audit    *services.AuditService
}

// NewAuthHandler wires the login flow. totp may be nil when no encryption key
// is configured; users with a second factor then cannot log in.
func NewAuthHandler(db *gorm.DB, jwt *iauth.JWTService, sessions *iauth.SessionService, local *providers.LocalProvider, totp *mfa.TOTPService, audit *services.AuditService) (*AuthHandler, error) {
	if db == nil || jwt == nil || sessions == nil || local == nil {
		return nil, errors.New("auth handler: db, jwt, sessions and local provider are required")
	}
	checker, err := permissions.NewChecker(db)
	if err != nil {
		return nil, err
	}
	return &AuthHandler{
		db:       db,
		jwt:      jwt,
		sessions: sessions,
		local:    local,
		checker:  checker,
		totp:     totp,
		audit:    audit,
	}, nil
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	MFACode    string `json:"mfa_code"`
}

type registerRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=80"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name" validate:"max=50"`
	Phone     string `json:"phone" validate:"max=20"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type userPayload struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Email       string        `json:"email"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Phone       string        `json:"phone"`
	IsActive    bool          `json:"is_active"`
	MFAEnabled  bool          `json:"mfa_enabled"`
	Roles       []rolePayload `json:"roles"`
	Permissions []string      `json:"permissions"`
}

type rolePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type loginResponse struct {
	tokenResponse
	User userPayload `json:"user"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	ctx := requestContext(c)

	user, err := h.local.Authenticate(ctx, providers.AuthenticateInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		h.loginFailed(c, req.Identifier, nil, loginFailureReason(err))
		response.Error(c, translateError(err))
		return
	}

	if user.MFAEnabled {
		if err := h.verifySecondFactor(c, user, req.MFACode); err != nil {
			h.loginFailed(c, user.Username, &user.ID, "mfa")
			response.Error(c, err)
			return
		}
	}

	pair, _, err := h.sessions.CreateSession(ctx, user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Username:  user.Username,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, translateError(err))
		return
	}

	payload, err := h.userPayload(c, user.ID)
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	services.RecordAudit(h.audit, ctx, services.AuditEntry{
		UserID:    &user.ID,
		Username:  user.Username,
		Action:    "auth.login",
		Resource:  "session",
		Result:    services.AuditResultSuccess,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	response.Success(c, http.StatusOK, loginResponse{
		tokenResponse: h.tokens(pair),
		User:          payload,
	})
}

func (h *AuthHandler) verifySecondFactor(c *gin.Context, user *models.User, code string) error {
	if h.totp == nil {
		return apperrors.ErrInternalServer.WithMessage("Second factor verification is unavailable")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.ErrMFARequired
	}
	if err := h.totp.Verify(requestContext(c), user.ID, code); err != nil {
		return translateError(err)
	}
	return nil
}

func (h *AuthHandler) loginFailed(c *gin.Context, identifier string, userID *string, reason string) {
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	services.RecordAudit(h.audit, requestContext(c), services.AuditEntry{
		UserID:    userID,
		Username:  identifier,
		Action:    "auth.login",
		Resource:  "session",
		Result:    services.AuditResultFailure,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  map[string]any{"reason": reason},
	})
}

func loginFailureReason(err error) string {
	switch {
	case errors.Is(err, providers.ErrAccountLocked):
		return "locked"
	case errors.Is(err, providers.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, providers.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.local.Register(requestContext(c), providers.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		response.Error(c, translateError(err))
		return
	}

	services.RecordAudit(h.audit, requestContext(c), services.AuditEntry{
		UserID:   &user.ID,
		Username: user.Username,
		Action:   "auth.register",
		Resource: "user:" + user.ID,
		Result:   services.AuditResultSuccess,
	})

	response.Success(c, http.StatusCreated, user)
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)

	pair, _, err := h.sessions.RefreshSession(requestContext(c), req.RefreshToken)
	if err != nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, h.tokens(pair))
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID := currentSessionID(c)
	if sessionID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sessionID); err != nil && !errors.Is(err, iauth.ErrSessionNotFound) {
		response.Error(c, translateError(err))
		return
	}

	services.RecordAudit(h.audit, requestContext(c), services.AuditEntry{
		Action:   "auth.logout",
		Resource: "session:" + sessionID,
		Result:   services.AuditResultSuccess,
	})

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	payload, err := h.userPayload(c, userID)
	if err != nil {
		response.Error(c, translateError(err))
		return
	}
	response.Success(c, http.StatusOK, payload)
}

func (h *AuthHandler) tokens(pair iauth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(h.jwt.TTL().Seconds()),
	}
}

func (h *AuthHandler) userPayload(c *gin.Context, userID string) (userPayload, error) {
	user, err := h.checker.LoadUser(requestContext(c), userID)
	if err != nil {
		return userPayload{}, err
	}

	roles := make([]rolePayload, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, rolePayload{ID: role.ID, Name: role.Name, Description: role.Description})
	}

	return userPayload{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Phone:       user.Phone,
		IsActive:    user.IsActive,
		MFAEnabled:  user.MFAEnabled,
		Roles:       roles,
		Permissions: permissions.SortedIDs(permissions.Union(user.Roles)),
	}, nil
}
