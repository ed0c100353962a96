package handlers_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/clinicauth/internal/handlers/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type enrollmentBody struct {
	Secret      string   `json:"secret"`
	URL         string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

type mfaStatusBody struct {
	Available            bool `json:"available"`
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

func mfaStatus(t *testing.T, env *testutil.Env, token string) mfaStatusBody {
	t.Helper()
	w := env.Request(http.MethodGet, "/api/mfa/status", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status mfaStatusBody
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &status)
	return status
}

func TestMFAUnavailableWithoutKey(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("nurse")
	token := env.Login("nurse").AccessToken

	status := mfaStatus(t, env, token)
	require.False(t, status.Available)
	require.False(t, status.Enabled)

	w := env.Request(http.MethodPost, "/api/mfa/setup", nil, token)
	testutil.RequireError(t, w, http.StatusServiceUnavailable, "MFA_UNAVAILABLE")

	w = env.Request(http.MethodPost, "/api/mfa/enable", map[string]string{"code": "123456"}, token)
	testutil.RequireError(t, w, http.StatusServiceUnavailable, "MFA_UNAVAILABLE")
}

func TestMFAEnrollmentAndLogin(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithEncryptionKey(testEncryptionKey))
	env.CreateUser("doctor", permissions.PerformConsultation)
	token := env.Login("doctor").AccessToken

	w := env.Request(http.MethodPost, "/api/mfa/setup", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var enrollment enrollmentBody
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &enrollment)
	require.NotEmpty(t, enrollment.Secret)
	require.True(t, strings.HasPrefix(enrollment.URL, "otpauth://totp/"))
	require.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))
	require.NotEmpty(t, enrollment.BackupCodes)

	// Enrolment alone does not switch the factor on.
	require.False(t, mfaStatus(t, env, token).Enabled)

	w = env.Request(http.MethodPost, "/api/mfa/enable", map[string]string{"code": "000000"}, token)
	testutil.RequireError(t, w, http.StatusUnauthorized, "MFA_INVALID")

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	w = env.Request(http.MethodPost, "/api/mfa/enable", map[string]string{"code": code}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status := mfaStatus(t, env, token)
	require.True(t, status.Enabled)
	require.Equal(t, len(enrollment.BackupCodes), status.BackupCodesRemaining)

	w = env.Request(http.MethodPost, "/api/mfa/setup", nil, token)
	testutil.RequireError(t, w, http.StatusConflict, "CONFLICT")

	credentials := map[string]string{"identifier": "doctor", "password": testutil.DefaultPassword}
	w = env.Request(http.MethodPost, "/api/auth/login", credentials, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "MFA_REQUIRED")

	credentials["mfa_code"] = "999999"
	w = env.Request(http.MethodPost, "/api/auth/login", credentials, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "MFA_INVALID")

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	credentials["mfa_code"] = code
	w = env.Request(http.MethodPost, "/api/auth/login", credentials, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A backup code works exactly once.
	credentials["mfa_code"] = enrollment.BackupCodes[0]
	w = env.Request(http.MethodPost, "/api/auth/login", credentials, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.Request(http.MethodPost, "/api/auth/login", credentials, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "MFA_INVALID")
	require.Equal(t, len(enrollment.BackupCodes)-1, mfaStatus(t, env, token).BackupCodesRemaining)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	w = env.Request(http.MethodPost, "/api/mfa/disable", map[string]string{"code": code}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.False(t, mfaStatus(t, env, token).Enabled)

	var secrets int64
	require.NoError(t, env.DB.Model(&models.MFASecret{}).Count(&secrets).Error)
	require.Zero(t, secrets)

	env.Login("doctor")
}

func TestChangePassword(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("nurse")
	token := env.Login("nurse").AccessToken

	w := env.Request(http.MethodPost, "/api/profile/password", map[string]string{
		"current_password": "wrong-password",
		"new_password":     "Fresh#Secret9",
	}, token)
	testutil.RequireError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	w = env.Request(http.MethodPost, "/api/profile/password", map[string]string{
		"current_password": testutil.DefaultPassword,
		"new_password":     "weak",
	}, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "WEAK_PASSWORD")

	w = env.Request(http.MethodPost, "/api/profile/password", map[string]string{
		"current_password": testutil.DefaultPassword,
		"new_password":     "Fresh#Secret9",
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{"identifier": "nurse", "password": testutil.DefaultPassword}, "")
	testutil.RequireError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{"identifier": "nurse", "password": "Fresh#Secret9"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var failures, successes int64
	require.NoError(t, env.DB.Model(&models.AuditLog{}).Where("action = ? AND result = ?", "profile.password_change", "failure").Count(&failures).Error)
	require.NoError(t, env.DB.Model(&models.AuditLog{}).Where("action = ? AND result = ?", "profile.password_change", "success").Count(&successes).Error)
	require.EqualValues(t, 2, failures)
	require.EqualValues(t, 1, successes)
}

func TestAuditTrailQueries(t *testing.T) {
	env := testutil.NewEnv(t)
	clerk := env.CreateUser("clerk", permissions.ManageUsers)
	env.CreateUser("nurse")
	token := env.Login("clerk").AccessToken
	env.Login("nurse")

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"identifier": "nurse", "password": "nope"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/audit?action=auth.login", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	var logs []models.AuditLog
	testutil.DecodeInto(t, resp.Data, &logs)
	require.Len(t, logs, 3)
	require.Equal(t, 3, resp.Meta.Total)

	w = env.Request(http.MethodGet, "/api/audit?action=auth.login&result=failure", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &logs)
	require.Len(t, logs, 1)
	require.Equal(t, "nurse", logs[0].Username)

	w = env.Request(http.MethodGet, "/api/audit?user_id="+clerk.ID, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &logs)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		require.NotNil(t, entry.UserID)
		require.Equal(t, clerk.ID, *entry.UserID)
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = env.Request(http.MethodGet, "/api/audit?since="+future, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &logs)
	require.Empty(t, logs)

	w = env.Request(http.MethodGet, "/api/audit?since=yesterday", nil, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "BAD_REQUEST")

	w = env.Request(http.MethodGet, "/api/audit/export?q=auth.login", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=audit-")
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &logs)
	require.Len(t, logs, 3)
}

func TestAuditRoutesRequireManageUsers(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("nurse", permissions.ViewPatientData)
	token := env.Login("nurse").AccessToken

	w := env.Request(http.MethodGet, "/api/audit", nil, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = env.Request(http.MethodGet, "/api/audit/export", nil, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
}

func TestSecurityPostureReview(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAdmin("director")
	token := env.Login("director").AccessToken

	w := env.Request(http.MethodGet, "/api/security/audit", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Checks []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"checks"`
		Summary map[string]int `json:"summary"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	require.Len(t, result.Checks, 5)

	statuses := make(map[string]string, len(result.Checks))
	for _, check := range result.Checks {
		statuses[check.ID] = check.Status
	}
	require.Equal(t, "pass", statuses["active_administrator"])
	require.Equal(t, "warn", statuses["encryption_key"])

	env.CreateUser("receptionist")
	w = env.Request(http.MethodGet, "/api/security/audit", nil, env.Login("receptionist").AccessToken)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
}
