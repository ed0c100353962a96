package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	kept := BaseModel{ID: "fixed"}
	require.NoError(t, kept.BeforeCreate(nil))
	require.Equal(t, "fixed", kept.ID)
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel { return &(&User{}).BaseModel }},
		{"role", func() *BaseModel { return &(&Role{}).BaseModel }},
		{"access_code", func() *BaseModel { return &(&TemporaryAccessCode{}).BaseModel }},
		{"mfa_secret", func() *BaseModel { return &(&MFASecret{}).BaseModel }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			require.NoError(t, model.BeforeCreate(nil))
			require.NotEmpty(t, model.ID)
		})
	}
}

func TestAuditLogIDsFollowCreatedAt(t *testing.T) {
	first := &AuditLog{CreatedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	second := &AuditLog{CreatedAt: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, first.BeforeCreate(nil))
	require.NoError(t, second.BeforeCreate(nil))

	require.Len(t, first.ID, 26)
	require.Less(t, first.ID, second.ID)
}

func TestTemporaryAccessCodeState(t *testing.T) {
	expires := time.Date(2024, 1, 1, 8, 10, 0, 0, time.UTC)
	code := &TemporaryAccessCode{UseType: UseTypeSingle, ExpiresAt: expires}

	require.True(t, code.SingleUse())
	require.False(t, code.Consumed())
	code.TimesUsed = 1
	require.True(t, code.Consumed())

	code.UseType = UseTypeMulti
	require.False(t, code.Consumed())

	require.False(t, code.ExpiredAt(expires.Add(-time.Nanosecond)))
	require.True(t, code.ExpiredAt(expires))
}

func TestEmptyUseTypeIsSingleUse(t *testing.T) {
	require.True(t, (&TemporaryAccessCode{}).SingleUse())
}

func TestUserRoleNames(t *testing.T) {
	u := &User{Roles: []Role{{Name: "doctor"}, {Name: "lab"}}}
	require.Equal(t, []string{"doctor", "lab"}, u.RoleNames())
}
