package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/charlesng35/clinicauth/internal/cache"
)

const grantKeyPrefix = "grants:"

// ErrSessionRequired is returned when a grant operation is attempted without a session id.
var ErrSessionRequired = errors.New("grants: session id is required")

// Grant is a temporary permission held by one session. It is installed by a
// successful code activation and is honoured while now < ExpiresAt.
type Grant struct {
	Permission string    `cbor:"1,keyasint" json:"permission"`
	CodeID     string    `cbor:"2,keyasint" json:"code_id"`
	ExpiresAt  time.Time `cbor:"3,keyasint" json:"expires_at"`
}

// ActiveAt reports whether the grant still applies at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Same reports whether o is the grant installed by the same activation.
func (g Grant) Same(o Grant) bool {
	return g.Permission == o.Permission && g.CodeID == o.CodeID && g.ExpiresAt.Equal(o.ExpiresAt)
}

// GrantStore holds the temporary grants of live sessions, keyed by session id
// and then permission name. Installing a grant for a permission the session
// already holds replaces the earlier grant. Discard removes a grant only while
// the stored grant for its permission is still the same one, so a grant
// installed after the caller's Load survives.
type GrantStore interface {
	Load(ctx context.Context, sessionID string) (map[string]Grant, error)
	Put(ctx context.Context, sessionID string, grant Grant) error
	Discard(ctx context.Context, sessionID string, grant Grant) error
	Clear(ctx context.Context, sessionID string) error
}

// MemoryGrantStore keeps grants in process memory. Grants vanish on restart.
type MemoryGrantStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Grant
}

// NewMemoryGrantStore constructs an empty in-process grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{sessions: make(map[string]map[string]Grant)}
}

// Load returns a copy of the session's grants.
func (s *MemoryGrantStore) Load(_ context.Context, sessionID string) (map[string]Grant, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := s.sessions[sessionID]
	out := make(map[string]Grant, len(grants))
	for permission, grant := range grants {
		out[permission] = grant
	}
	return out, nil
}

// Put installs grant for the session.
func (s *MemoryGrantStore) Put(_ context.Context, sessionID string, grant Grant) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	if grant.Permission == "" {
		return errors.New("grants: permission is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, ok := s.sessions[sessionID]
	if !ok {
		grants = make(map[string]Grant)
		s.sessions[sessionID] = grants
	}
	grants[grant.Permission] = grant
	return nil
}

// Discard drops grant if it is still the session's grant for its permission.
func (s *MemoryGrantStore) Discard(_ context.Context, sessionID string, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	current, ok := grants[grant.Permission]
	if !ok || !current.Same(grant) {
		return nil
	}
	delete(grants, grant.Permission)
	if len(grants) == 0 {
		delete(s.sessions, sessionID)
	}
	return nil
}

// Clear drops every grant held by the session.
func (s *MemoryGrantStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// RedisGrantStore keeps grants in a Redis hash per session so every API
// instance sees the same grants. Fields are CBOR encoded.
type RedisGrantStore struct {
	store *cache.RedisStore
	enc   cbor.EncMode
}

// NewRedisGrantStore wraps a connected Redis store.
func NewRedisGrantStore(store *cache.RedisStore) (*RedisGrantStore, error) {
	if store == nil {
		return nil, errors.New("grants: redis store is required")
	}
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("grants: cbor encoder: %w", err)
	}
	return &RedisGrantStore{store: store, enc: enc}, nil
}

// Load decodes the session's grants. Undecodable fields are skipped.
func (s *RedisGrantStore) Load(ctx context.Context, sessionID string) (map[string]Grant, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionRequired
	}
	fields, err := s.store.Fields(ctx, grantKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("grants: load: %w", err)
	}

	out := make(map[string]Grant, len(fields))
	for permission, raw := range fields {
		var grant Grant
		if err := cbor.Unmarshal(raw, &grant); err != nil {
			continue
		}
		out[permission] = grant
	}
	return out, nil
}

// Put installs grant for the session and keeps the hash alive until the
// latest grant expires.
func (s *RedisGrantStore) Put(ctx context.Context, sessionID string, grant Grant) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	if grant.Permission == "" {
		return errors.New("grants: permission is required")
	}
	payload, err := s.enc.Marshal(grant)
	if err != nil {
		return fmt.Errorf("grants: encode: %w", err)
	}
	if err := s.store.SetField(ctx, grantKey(sessionID), grant.Permission, payload, grant.ExpiresAt); err != nil {
		return fmt.Errorf("grants: put: %w", err)
	}
	return nil
}

// Discard drops grant if it is still the session's grant for its permission.
func (s *RedisGrantStore) Discard(ctx context.Context, sessionID string, grant Grant) error {
	_, err := s.store.DeleteFieldIf(ctx, grantKey(sessionID), grant.Permission, func(raw []byte) bool {
		var current Grant
		if err := cbor.Unmarshal(raw, &current); err != nil {
			return false
		}
		return current.Same(grant)
	})
	if err != nil {
		return fmt.Errorf("grants: discard: %w", err)
	}
	return nil
}

// Clear drops every grant held by the session.
func (s *RedisGrantStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, grantKey(sessionID)); err != nil {
		return fmt.Errorf("grants: clear: %w", err)
	}
	return nil
}

func grantKey(sessionID string) string {
	return grantKeyPrefix + sessionID
}
