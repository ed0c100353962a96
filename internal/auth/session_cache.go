package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/charlesng35/clinicauth/internal/cache"
	"github.com/charlesng35/clinicauth/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:refresh:"

// NewSessionCache wraps a shared cache store inside a SessionCache implementation.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

// cachedSession holds the fields needed to validate a refresh token. The token
// itself is the cache key and is never part of the value.
type cachedSession struct {
	ID         string     `cbor:"1,keyasint"`
	UserID     string     `cbor:"2,keyasint"`
	ExpiresAt  time.Time  `cbor:"3,keyasint"`
	LastUsedAt time.Time  `cbor:"4,keyasint"`
	RevokedAt  *time.Time `cbor:"5,keyasint,omitempty"`
}

func (c *sessionStoreCache) Get(ctx context.Context, refreshToken string) (*models.Session, error) {
	key := cacheKey(refreshToken)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry cachedSession
	if err := cbor.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return &models.Session{
		ID:           entry.ID,
		UserID:       entry.UserID,
		RefreshToken: strings.TrimSpace(refreshToken),
		ExpiresAt:    entry.ExpiresAt,
		LastUsedAt:   entry.LastUsedAt,
		RevokedAt:    entry.RevokedAt,
	}, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := cacheKey(session.RefreshToken)
	if key == "" {
		return errors.New("session cache: refresh token missing")
	}

	payload, err := cbor.Marshal(cachedSession{
		ID:         session.ID,
		UserID:     session.UserID,
		ExpiresAt:  session.ExpiresAt,
		LastUsedAt: session.LastUsedAt,
		RevokedAt:  session.RevokedAt,
	})
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, refreshToken string) error {
	key := cacheKey(refreshToken)
	if key == "" {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func cacheKey(refreshToken string) string {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return ""
	}
	return sessionCacheKeyPrefix + token
}
