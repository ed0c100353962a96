package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/clinicauth/internal/database"
	"github.com/charlesng35/clinicauth/internal/handlers/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

type roleBody struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	IsSystem    bool                `json:"is_system"`
	Permissions []models.Permission `json:"permissions"`
}

func permissionIDs(perms []models.Permission) []string {
	ids := make([]string, 0, len(perms))
	for _, perm := range perms {
		ids = append(ids, perm.ID)
	}
	return ids
}

func TestRoleLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("registrar", permissions.ManageRoles)
	token := env.Login("registrar").AccessToken

	w := env.Request(http.MethodPost, "/api/roles", map[string]any{
		"name":           "lab-technician",
		"description":    "Enters laboratory results",
		"permission_ids": []string{permissions.EnterTestResults},
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created roleBody
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &created)
	require.NotEmpty(t, created.ID)
	require.ElementsMatch(t, []string{permissions.EnterTestResults}, permissionIDs(created.Permissions))

	w = env.Request(http.MethodPost, "/api/roles", map[string]any{"name": "lab-technician"}, token)
	testutil.RequireError(t, w, http.StatusConflict, "ROLE_EXISTS")

	w = env.Request(http.MethodPost, "/api/roles/"+created.ID+"/permissions/"+permissions.ViewPatientData, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/roles/"+created.ID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched roleBody
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &fetched)
	require.ElementsMatch(t, []string{permissions.EnterTestResults, permissions.ViewPatientData}, permissionIDs(fetched.Permissions))

	w = env.Request(http.MethodPut, "/api/roles/"+created.ID+"/permissions", map[string]any{
		"permission_ids": []string{permissions.ViewStatistics},
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &fetched)
	require.ElementsMatch(t, []string{permissions.ViewStatistics}, permissionIDs(fetched.Permissions))

	w = env.Request(http.MethodPost, "/api/roles/"+created.ID+"/permissions/not_a_permission", nil, token)
	testutil.RequireError(t, w, http.StatusNotFound, "PERMISSION_NOT_FOUND")

	desc := "Laboratory staff"
	w = env.Request(http.MethodPut, "/api/roles/"+created.ID, map[string]any{"name": "lab-staff", "description": desc}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &fetched)
	require.Equal(t, "lab-staff", fetched.Name)
	require.Equal(t, desc, fetched.Description)

	w = env.Request(http.MethodDelete, "/api/roles/"+created.ID, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/roles/"+created.ID, nil, token)
	testutil.RequireError(t, w, http.StatusNotFound, "ROLE_NOT_FOUND")
}

func TestSystemRoleIsImmutable(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("registrar", permissions.ManageRoles)
	token := env.Login("registrar").AccessToken

	var admin models.Role
	require.NoError(t, env.DB.Where("name = ?", database.AdminRoleName).Take(&admin).Error)

	w := env.Request(http.MethodDelete, "/api/roles/"+admin.ID, nil, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "ROLE_IMMUTABLE")

	w = env.Request(http.MethodPut, "/api/roles/"+admin.ID, map[string]any{"name": "superuser"}, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "ROLE_IMMUTABLE")
}

func TestRoleAssignmentChangesAuthorization(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("registrar", permissions.ManageRoles)
	nurse := env.CreateUser("nurse")
	adminToken := env.Login("registrar").AccessToken
	nurseToken := env.Login("nurse").AccessToken

	role := &models.Role{Name: "screening"}
	require.NoError(t, env.DB.Create(role).Error)
	require.NoError(t, env.DB.Model(role).Association("Permissions").Append(&models.Permission{ID: permissions.ManageScreeningRecords}))

	status, _ := authorize(t, env, nurseToken, permissions.ManageScreeningRecords)
	require.Equal(t, http.StatusForbidden, status)

	w := env.Request(http.MethodPost, "/api/users/"+nurse.ID+"/roles/"+role.ID, nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, decision := authorize(t, env, nurseToken, permissions.ManageScreeningRecords)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "role", string(decision.Source))

	w = env.Request(http.MethodDelete, "/api/users/"+nurse.ID+"/roles/"+role.ID, nil, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, _ = authorize(t, env, nurseToken, permissions.ManageScreeningRecords)
	require.Equal(t, http.StatusForbidden, status)
}

func TestRoleRoutesRequireManageRoles(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("clerk", permissions.ManageUsers)
	token := env.Login("clerk").AccessToken

	w := env.Request(http.MethodGet, "/api/roles", nil, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = env.Request(http.MethodPost, "/api/roles", map[string]any{"name": "sneaky"}, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
}

func TestUserAdministration(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("clerk", permissions.ManageUsers)
	token := env.Login("clerk").AccessToken

	w := env.Request(http.MethodPost, "/api/users", map[string]any{
		"username":   "drjones",
		"email":      "jones@clinic.test",
		"password":   testutil.DefaultPassword,
		"first_name": "Indiana",
		"last_name":  "Jones",
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.User
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &created)
	require.NotEmpty(t, created.ID)
	require.True(t, created.IsActive)
	require.NotContains(t, w.Body.String(), "password")

	w = env.Request(http.MethodPost, "/api/users", map[string]any{
		"username": "drjones",
		"email":    "other@clinic.test",
		"password": testutil.DefaultPassword,
	}, token)
	testutil.RequireError(t, w, http.StatusConflict, "USER_EXISTS")

	w = env.Request(http.MethodPost, "/api/users", map[string]any{
		"username": "weakling",
		"email":    "weak@clinic.test",
		"password": "short",
	}, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "WEAK_PASSWORD")

	w = env.Request(http.MethodPatch, "/api/users/"+created.ID, map[string]any{"phone": "555-0100"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.User
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &updated)
	require.Equal(t, "555-0100", updated.Phone)
	require.Equal(t, "Jones", updated.LastName)

	w = env.Request(http.MethodGet, "/api/users?q=jones", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	var listed []models.User
	testutil.DecodeInto(t, resp.Data, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, created.ID, listed[0].ID)
	require.NotNil(t, resp.Meta)
	require.EqualValues(t, 1, resp.Meta.Total)

	w = env.Request(http.MethodPost, "/api/users/"+created.ID+"/password", map[string]any{"password": "Another#Pass1"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]any{"identifier": "drjones", "password": "Another#Pass1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/users/does-not-exist", nil, token)
	testutil.RequireError(t, w, http.StatusNotFound, "USER_NOT_FOUND")
}

func TestUserDeactivation(t *testing.T) {
	env := testutil.NewEnv(t)
	clerk := env.CreateUser("clerk", permissions.ManageUsers)
	nurse := env.CreateUser("nurse", permissions.ViewPatientData)
	token := env.Login("clerk").AccessToken
	nurseToken := env.Login("nurse").AccessToken

	w := env.Request(http.MethodPatch, "/api/users/"+clerk.ID+"/active", map[string]any{"active": false}, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "USER_SELF_DEACTIVATION")

	w = env.Request(http.MethodPatch, "/api/users/"+nurse.ID+"/active", map[string]any{}, token)
	testutil.RequireError(t, w, http.StatusBadRequest, "BAD_REQUEST")

	w = env.Request(http.MethodPatch, "/api/users/"+nurse.ID+"/active", map[string]any{"active": false}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, _ := authorize(t, env, nurseToken, permissions.ViewPatientData)
	require.Equal(t, http.StatusUnauthorized, status)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]any{"identifier": "nurse", "password": testutil.DefaultPassword}, "")
	testutil.RequireError(t, w, http.StatusForbidden, "ACCOUNT_DISABLED")

	w = env.Request(http.MethodPatch, "/api/users/"+nurse.ID+"/active", map[string]any{"active": true}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.Login("nurse")
}

func TestUserRoutesRequireManageUsers(t *testing.T) {
	env := testutil.NewEnv(t)
	nurse := env.CreateUser("nurse", permissions.ViewPatientData)
	token := env.Login("nurse").AccessToken

	w := env.Request(http.MethodGet, "/api/users", nil, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")

	w = env.Request(http.MethodPatch, "/api/users/"+nurse.ID+"/active", map[string]any{"active": true}, token)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")

	// Role assignment sits behind manage_roles, not manage_users.
	clerkEnv := testutil.NewEnv(t)
	clerkEnv.CreateUser("clerk", permissions.ManageUsers)
	target := clerkEnv.CreateUser("target")
	clerkToken := clerkEnv.Login("clerk").AccessToken

	var admin models.Role
	require.NoError(t, clerkEnv.DB.Where("name = ?", database.AdminRoleName).Take(&admin).Error)
	w = clerkEnv.Request(http.MethodPost, "/api/users/"+target.ID+"/roles/"+admin.ID, nil, clerkToken)
	testutil.RequireError(t, w, http.StatusForbidden, "FORBIDDEN")
}

func TestPermissionCatalogue(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("nurse", permissions.ViewPatientData, permissions.RegisterPatient)
	token := env.Login("nurse").AccessToken

	w := env.Request(http.MethodGet, "/api/permissions", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var catalogue []models.Permission
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &catalogue)
	ids := permissionIDs(catalogue)
	require.Contains(t, ids, permissions.ManageUsers)
	require.Contains(t, ids, permissions.EnterTestResults)

	w = env.Request(http.MethodGet, "/api/permissions/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var effective struct {
		Roles     []string `json:"roles"`
		Temporary []any    `json:"temporary"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &effective)
	require.Equal(t, []string{permissions.RegisterPatient, permissions.ViewPatientData}, effective.Roles)
	require.Empty(t, effective.Temporary)
}
