package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/charlesng35/clinicauth/internal/database/testutil"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
)

const testPassword = "Clinic#2024"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2030, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newSeededDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithSeedData())
}

func newTestAuditService(t *testing.T, db *gorm.DB, clock *testClock) *AuditService {
	t.Helper()

	svc, err := NewAuditService(db)
	require.NoError(t, err)
	if clock != nil {
		svc.now = clock.Now
	}
	return svc
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@clinic.test",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func auditActions(t *testing.T, db *gorm.DB, action string) []models.AuditLog {
	t.Helper()

	var logs []models.AuditLog
	require.NoError(t, db.Where("action = ?", action).Order("id ASC").Find(&logs).Error)
	return logs
}

type revokerFunc func(ctx context.Context, userID string) error

func (f revokerFunc) RevokeUserSessions(ctx context.Context, userID string) error {
	return f(ctx, userID)
}
