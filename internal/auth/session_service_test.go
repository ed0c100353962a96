package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/cache"
	testutil "github.com/charlesng35/clinicauth/internal/database/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{})
	ctx := context.Background()

	user := createTestUser(t, db, "user-create")

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Username:  user.Username,
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.True(t, tokens.ExpiresAt.Equal(clock.Now().Add(time.Hour)))
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))

	active, err := svc.ActiveSession(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, active)
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "user-refresh")

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updatedSession, err := svc.RefreshSession(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

	require.Equal(t, session.ID, updatedSession.ID)
	require.Equal(t, newTokens.RefreshToken, updatedSession.RefreshToken)
	require.True(t, updatedSession.LastUsedAt.Equal(clock.Now()))

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "user-expired")

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, _, err = svc.RefreshSession(ctx, "  ")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRevokeSessionPreventsRefreshAndClearsGrants(t *testing.T) {
	grants := NewMemoryGrantStore()
	db, svc, clock := setupSessionService(t, SessionConfig{Grants: grants})
	ctx := context.Background()

	user := createTestUser(t, db, "user-revoke")

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, grants.Put(ctx, session.ID, Grant{
		Permission: "view_patients",
		CodeID:     "code-1",
		ExpiresAt:  clock.Now().Add(time.Hour),
	}))

	require.NoError(t, svc.RevokeSession(ctx, session.ID))

	held, err := grants.Load(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, held)

	err = svc.RevokeSession(ctx, "non-existent")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)

	active, err := svc.ActiveSession(ctx, session.ID)
	require.NoError(t, err)
	require.False(t, active)
}

func TestRevokeUserSessions(t *testing.T) {
	grants := NewMemoryGrantStore()
	db, svc, clock := setupSessionService(t, SessionConfig{Grants: grants})
	ctx := context.Background()
	user := createTestUser(t, db, "user-revoke-all")

	_, first, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, second, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	for _, s := range []*models.Session{first, second} {
		require.NoError(t, grants.Put(ctx, s.ID, Grant{Permission: "view_patients", ExpiresAt: clock.Now().Add(time.Hour)}))
	}

	require.NoError(t, svc.RevokeUserSessions(ctx, user.ID))

	var revoked int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ? AND revoked_at IS NOT NULL", user.ID).Count(&revoked).Error)
	require.Equal(t, int64(2), revoked)

	for _, s := range []*models.Session{first, second} {
		held, err := grants.Load(ctx, s.ID)
		require.NoError(t, err)
		require.Empty(t, held)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "user-cleanup")

	_, expired, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expired.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, revoked, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, revoked.ID))

	_, active, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, active.ID, remaining[0].ID)
}

func TestRefreshSessionUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore(cache.RedisConfig{Address: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db, svc, _ := setupSessionService(t, SessionConfig{Cache: NewSessionCache(store)})
	ctx := context.Background()
	user := createTestUser(t, db, "user-cached")

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	cached, err := svc.cache.Get(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, cached.ID)
	require.Equal(t, user.ID, cached.UserID)

	rotated, _, err := svc.RefreshSession(ctx, tokens.RefreshToken)
	require.NoError(t, err)

	_, err = svc.cache.Get(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, errSessionCacheMiss)

	cached, err = svc.cache.Get(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, cached.ID)
}

func setupSessionService(t *testing.T, cfg SessionConfig) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	cfg.RefreshTokenTTL = 2 * time.Hour
	cfg.RefreshLength = 24
	cfg.Clock = clock.Now

	sessionService, err := NewSessionService(db, jwtService, cfg)
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("Password1!")
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

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
