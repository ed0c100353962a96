package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
	"github.com/charlesng35/clinicauth/pkg/logger"
	"github.com/charlesng35/clinicauth/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
	Cache           SessionCache
	// Grants, when set, is cleared whenever a session ends.
	Grants GrantStore
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Username  string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by the user or administrators.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session objects keyed by refresh token.
type SessionCache interface {
	Get(ctx context.Context, refreshToken string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, refreshToken string) error
}

// SessionService manages creation, rotation, and revocation of user sessions.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	cache      SessionCache
	grants     GrantStore
	log        *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = 48
	}

	clock := func() time.Time { return time.Now().UTC() }
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
		cache:      cfg.Cache,
		grants:     cfg.Grants,
		log:        logger.WithModule("sessions"),
	}, nil
}

// CreateSession generates a new session and issues a fresh token pair.
func (s *SessionService) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()

	session := &models.Session{
		UserID:       userID,
		RefreshToken: refreshToken,
		IPAddress:    strings.TrimSpace(meta.IPAddress),
		UserAgent:    strings.TrimSpace(meta.UserAgent),
		ExpiresAt:    now.Add(s.refreshTTL),
		LastUsedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	pair, err := s.issue(session, meta.Username, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, session, s.refreshTTL); err != nil {
			s.log.Debug("session cache set failed", zap.Error(err))
		}
	}

	return pair, session, nil
}

// RefreshSession rotates the refresh token and issues a new access token.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	ctx = ensureContext(ctx)
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	var session models.Session
	cacheHit := false

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, refreshToken); err == nil && cached != nil {
			session = *cached
			cacheHit = true
		}
	}

	if !cacheHit {
		err := s.db.WithContext(ctx).Where("refresh_token = ?", refreshToken).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TokenPair{}, nil, ErrSessionNotFound
		}
		if err != nil {
			return TokenPair{}, nil, fmt.Errorf("session service: find session: %w", err)
		}
	}

	now := s.now()

	if session.RevokedAt != nil {
		return TokenPair{}, nil, ErrSessionRevoked
	}

	if !now.Before(session.ExpiresAt) {
		return TokenPair{}, nil, ErrSessionExpired
	}

	newRefresh, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	expiresAt := now.Add(s.refreshTTL)
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_token = ? AND revoked_at IS NULL", session.ID, refreshToken).
		Updates(map[string]any{
			"refresh_token": newRefresh,
			"expires_at":    expiresAt,
			"last_used_at":  now,
		})
	if result.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// rotated or revoked concurrently
		if s.cache != nil {
			_ = s.cache.Delete(ctx, refreshToken)
		}
		return TokenPair{}, nil, ErrSessionNotFound
	}

	session.RefreshToken = newRefresh
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now

	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Take(&user, "id = ?", session.UserID).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: load user: %w", err)
	}

	pair, err := s.issue(&session, user.Username, now)
	if err != nil {
		return TokenPair{}, nil, err
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, refreshToken)
		_ = s.cache.Set(ctx, &session, s.refreshTTL)
	}

	return pair, &session, nil
}

// RevokeSession marks a session as revoked, preventing further refresh
// operations, and drops its temporary grants.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	var tokenToDelete string
	if s.cache != nil {
		var session models.Session
		if err := s.db.WithContext(ctx).Select("refresh_token").Take(&session, "id = ?", sessionID).Error; err == nil {
			tokenToDelete = session.RefreshToken
		}
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	s.clearGrants(ctx, sessionID)

	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	if s.cache != nil && tokenToDelete != "" {
		_ = s.cache.Delete(ctx, tokenToDelete)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Select("id", "refresh_token").
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Find(&sessions).Error; err != nil {
		return fmt.Errorf("session service: list sessions: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	for _, session := range sessions {
		s.clearGrants(ctx, session.ID)
		if s.cache != nil && strings.TrimSpace(session.RefreshToken) != "" {
			_ = s.cache.Delete(ctx, session.RefreshToken)
		}
	}
	return nil
}

// CleanupExpired removes expired and revoked sessions and updates active session metrics accordingly.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var stale []models.Session
	if err := s.db.WithContext(ctx).
		Select("id", "refresh_token", "revoked_at").
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("session service: list expired sessions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	var activeExpired int
	for _, session := range stale {
		ids = append(ids, session.ID)
		if session.RevokedAt == nil {
			activeExpired++
		}
	}

	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	for _, session := range stale {
		s.clearGrants(ctx, session.ID)
		if s.cache != nil && strings.TrimSpace(session.RefreshToken) != "" {
			_ = s.cache.Delete(ctx, session.RefreshToken)
		}
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

// ActiveSession reports whether sessionID names a session that is neither revoked nor expired.
func (s *SessionService) ActiveSession(ctx context.Context, sessionID string) (bool, error) {
	ctx = ensureContext(ctx)
	var session models.Session
	err := s.db.WithContext(ctx).Select("id", "expires_at", "revoked_at").Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session service: load session: %w", err)
	}
	return session.RevokedAt == nil && s.now().Before(session.ExpiresAt), nil
}

func (s *SessionService) issue(session *models.Session, username string, now time.Time) (TokenPair, error) {
	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    session.UserID,
		SessionID: session.ID,
		Username:  username,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: generate access token: %w", err)
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    now.Add(s.jwt.TTL()),
	}, nil
}

func (s *SessionService) clearGrants(ctx context.Context, sessionID string) {
	if s.grants == nil {
		return
	}
	if err := s.grants.Clear(ctx, sessionID); err != nil {
		s.log.Warn("clear session grants failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
