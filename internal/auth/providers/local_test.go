package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/charlesng35/clinicauth/internal/database/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
)

func TestAuthenticateSuccessResetsCounters(t *testing.T) {
	db := setupDB(t)
	current := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	provider := newLocalProvider(t, db, LocalConfig{Clock: now})

	user := seedUser(t, db, "alice", "Password1!")
	require.NoError(t, db.Model(user).Update("failed_attempts", 3).Error)

	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Identifier: "alice",
		Password:   "Password1!",
		IPAddress:  "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, result.ID)

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)

	require.Equal(t, 0, updated.FailedAttempts)
	require.Nil(t, updated.LockedUntil)
	require.NotNil(t, updated.LastLoginAt)
	require.True(t, updated.LastLoginAt.Equal(current))
	require.Equal(t, "127.0.0.1", updated.LastLoginIP)
}

func TestAuthenticateByEmailIsCaseInsensitive(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{})
	user := seedUser(t, db, "nurse", "Password1!")

	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Identifier: "NURSE@example.com",
		Password:   "Password1!",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, result.ID)
}

func TestAuthenticateUnknownUserAndWrongPasswordMatch(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{})
	seedUser(t, db, "known", "Password1!")

	require.ErrorIs(t, tryAuthenticate(provider, "ghost", "Password1!"), ErrInvalidCredentials)
	require.ErrorIs(t, tryAuthenticate(provider, "known", "Wrong1!xx"), ErrInvalidCredentials)
	require.ErrorIs(t, tryAuthenticate(provider, "", ""), ErrInvalidCredentials)
}

func TestAuthenticateInvalidPasswordLocksAccount(t *testing.T) {
	db := setupDB(t)
	current := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	provider := newLocalProvider(t, db, LocalConfig{
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
		Clock:            now,
	})

	user := seedUser(t, db, "bob", "Correct1!")
	require.NoError(t, db.Model(user).Update("failed_attempts", 2).Error)

	err := tryAuthenticate(provider, "bob", "wrong")
	require.ErrorIs(t, err, ErrAccountLocked)

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)

	require.Equal(t, 3, updated.FailedAttempts)
	require.NotNil(t, updated.LockedUntil)
	require.WithinDuration(t, current.Add(10*time.Minute), *updated.LockedUntil, time.Second)

	// the correct password is refused until the lock lapses
	require.ErrorIs(t, tryAuthenticate(provider, "bob", "Correct1!"), ErrAccountLocked)

	current = current.Add(11 * time.Minute)
	require.NoError(t, tryAuthenticate(provider, "bob", "Correct1!"))
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	db := setupDB(t)

	provider := newLocalProvider(t, db, LocalConfig{})

	user := seedUser(t, db, "diana", "Correct1!")
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	err := tryAuthenticate(provider, "diana", "Correct1!")
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestRegisterHashesPassword(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{AllowRegistration: true})

	user, err := provider.Register(context.Background(), RegisterInput{
		Username: "eve",
		Email:    "Eve@Example.com",
		Password: "Secret12!",
	})
	require.NoError(t, err)

	require.Equal(t, "eve@example.com", user.Email)
	require.NotEqual(t, "Secret12!", user.Password)
	require.True(t, crypto.VerifyPassword(user.Password, "Secret12!"))
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{AllowRegistration: true})

	_, err := provider.Register(context.Background(), RegisterInput{
		Username: "weak",
		Email:    "weak@example.com",
		Password: "abc",
	})
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{AllowRegistration: true})
	seedUser(t, db, "taken", "Password1!")

	_, err := provider.Register(context.Background(), RegisterInput{
		Username: "taken",
		Email:    "other@example.com",
		Password: "Password1!",
	})
	require.ErrorIs(t, err, ErrIdentityTaken)

	_, err = provider.Register(context.Background(), RegisterInput{
		Username: "other",
		Email:    "taken@example.com",
		Password: "Password1!",
	})
	require.ErrorIs(t, err, ErrIdentityTaken)
}

func TestRegisterRespectsDisabledFlag(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{})
	require.False(t, provider.RegistrationEnabled())

	_, err := provider.Register(context.Background(), RegisterInput{
		Username: "gary",
		Email:    "gary@example.com",
		Password: "Secret12!",
	})
	require.ErrorIs(t, err, ErrRegistrationDisabled)

	user, err := provider.CreateUser(context.Background(), RegisterInput{
		Username: "gary",
		Email:    "gary@example.com",
		Password: "Secret12!",
	})
	require.NoError(t, err)
	require.True(t, user.IsActive)
}

func TestSetPassword(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{})
	user := seedUser(t, db, "henry", "Initial1!")
	ctx := context.Background()

	require.ErrorIs(t, provider.SetPassword(ctx, user.ID, "ALLUPPER1!"), ErrWeakPassword)
	require.ErrorIs(t, provider.SetPassword(ctx, "missing", "Abcdefg1!"), ErrInvalidCredentials)
	require.NoError(t, provider.SetPassword(ctx, user.ID, "Abcdefg1!"))

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(updated.Password, "Abcdefg1!"))
}

func TestChangePassword(t *testing.T) {
	db := setupDB(t)
	provider := newLocalProvider(t, db, LocalConfig{})
	user := seedUser(t, db, "frank", "Initial1!")
	ctx := context.Background()

	require.NoError(t, provider.ChangePassword(ctx, user.ID, "Initial1!", "Updated1!"))

	var updated models.User
	require.NoError(t, db.Take(&updated, "id = ?", user.ID).Error)
	require.True(t, crypto.VerifyPassword(updated.Password, "Updated1!"))

	err := provider.ChangePassword(ctx, user.ID, "wrong", "Another1!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = provider.ChangePassword(ctx, user.ID, "Updated1!", "weak")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func tryAuthenticate(provider *LocalProvider, identifier, password string) error {
	_, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Identifier: identifier,
		Password:   password,
	})
	return err
}

func newLocalProvider(t *testing.T, db *gorm.DB, cfg LocalConfig) *LocalProvider {
	t.Helper()
	provider, err := NewLocalProvider(db, cfg)
	require.NoError(t, err)
	return provider
}

func seedUser(t *testing.T, db *gorm.DB, username, password string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}
