package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/clinicauth/internal/app"
	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/monitoring"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "clinicauth.db"),
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "bootstrap-test-secret", Issuer: "bootstrap-test"},
		},
	}
}

type healthBody struct {
	Success bool                     `json:"success"`
	Checks  []monitoring.ProbeResult `json:"checks"`
}

func probeHealth(t *testing.T, stack *runtimeStack) healthBody {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body healthBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestBootstrapRuntimeWithoutRedis(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)

	require.Nil(t, stack.Redis)
	require.IsType(t, &iauth.MemoryGrantStore{}, stack.Grants)

	var perms int64
	require.NoError(t, stack.DB.Model(&models.Permission{}).Count(&perms).Error)
	require.Positive(t, perms)

	body := probeHealth(t, stack)
	require.True(t, body.Success)
	require.Len(t, body.Checks, 1)
	require.Equal(t, "database", body.Checks[0].Component)

	require.NoError(t, stack.Shutdown(context.Background()))
	_, err = os.Stat(cfg.Database.Path)
	require.NoError(t, err)
}

func TestBootstrapRuntimeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: mr.Addr()}

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.NotNil(t, stack.Redis)
	require.IsType(t, &iauth.RedisGrantStore{}, stack.Grants)

	body := probeHealth(t, stack)
	require.True(t, body.Success)
	require.Len(t, body.Checks, 2)
}

func TestBootstrapRuntimeFallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: "127.0.0.1:1"}

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background()) })

	require.Nil(t, stack.Redis)
	require.IsType(t, &iauth.MemoryGrantStore{}, stack.Grants)
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
