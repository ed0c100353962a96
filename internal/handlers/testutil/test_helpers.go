package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/api"
	"github.com/charlesng35/clinicauth/internal/app"
	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/database"
	sharedtestutil "github.com/charlesng35/clinicauth/internal/database/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
	"github.com/charlesng35/clinicauth/pkg/response"
)

// DefaultPassword satisfies the password policy and is used for every test user.
const DefaultPassword = "Clinic#2024"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Grants *iauth.MemoryGrantStore
	Config *app.Config
}

// EnvOption customises the configuration before the router is built.
type EnvOption func(cfg *app.Config)

// WithEncryptionKey enables the second factor endpoints.
func WithEncryptionKey(key string) EnvOption {
	return func(cfg *app.Config) {
		cfg.Security.EncryptionKey = key
	}
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
			Registration: app.RegistrationSettings{Enabled: true},
		},
		AccessCodes: app.AccessCodeConfig{
			CodeLength:  10,
			MaxDuration: 24 * time.Hour,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	grants := iauth.NewMemoryGrantStore()
	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Grants = grants
	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, sessionCfg)
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, sessionSvc, api.Options{Grants: grants})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Grants: grants,
		Config: cfg,
	}
}

// CreateUser inserts an active user whose only role carries perms. With no
// perms the user has no role at all.
func (e *Env) CreateUser(username string, perms ...string) *models.User {
	e.T.Helper()

	user := e.insertUser(username)
	if len(perms) == 0 {
		return user
	}

	role := &models.Role{Name: username + "-role"}
	require.NoError(e.T, e.DB.Create(role).Error)
	for _, perm := range perms {
		require.NoError(e.T, e.DB.Model(role).Association("Permissions").Append(&models.Permission{ID: perm}))
	}
	require.NoError(e.T, e.DB.Model(user).Association("Roles").Append(role))
	return user
}

// CreateAdmin inserts an active user holding the seeded admin role.
func (e *Env) CreateAdmin(username string) *models.User {
	e.T.Helper()

	user := e.insertUser(username)
	var admin models.Role
	require.NoError(e.T, e.DB.Where("name = ?", database.AdminRoleName).Take(&admin).Error)
	require.NoError(e.T, e.DB.Model(user).Association("Roles").Append(&admin))
	return user
}

func (e *Env) insertUser(username string) *models.User {
	hashed, err := crypto.HashPassword(DefaultPassword)
	require.NoError(e.T, err)

	user := &models.User{
		Username: username,
		Email:    username + "@clinic.test",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// TokenPair mirrors the handler token payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Email       string        `json:"email"`
	IsActive    bool          `json:"is_active"`
	MFAEnabled  bool          `json:"mfa_enabled"`
	Permissions []string      `json:"permissions"`
	Roles       []RolePayload `json:"roles"`
}

type RolePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	TokenPair
	User UserPayload `json:"user"`
}

// Login authenticates with DefaultPassword and returns the issued tokens.
func (e *Env) Login(username string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": username,
		"password":   DefaultPassword,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.RefreshToken)
	require.Greater(e.T, result.ExpiresIn, 0)
	require.Equal(e.T, username, result.User.Username)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// RequireError asserts the recorder holds an error envelope with status and code.
func RequireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
