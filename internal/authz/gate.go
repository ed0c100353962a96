// Package authz decides whether an authenticated session may exercise a
// permission, combining role permissions with temporary code grants.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/clinicauth/internal/auditctx"
	"github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/logger"
	"github.com/charlesng35/clinicauth/pkg/metrics"
)

// Decision sources.
const (
	SourceAuthenticated = "authenticated"
	SourceRole          = "role"
	SourceTemporary     = "temporary"
	SourceNone          = "none"
)

var (
	// ErrForbidden is returned when neither a role nor a live grant carries the permission.
	ErrForbidden = apperrors.ErrForbidden
	// ErrUnauthenticated is returned when the subject no longer maps to an active user.
	ErrUnauthenticated = apperrors.ErrUnauthorized
)

// CodeStatus reports whether the code behind a grant has been revoked.
type CodeStatus interface {
	Revoked(ctx context.Context, codeID string) (bool, error)
}

// Subject identifies the caller. Route is recorded on denials.
type Subject struct {
	UserID    string
	SessionID string
	Route     string
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Permission string     `json:"permission"`
	Source     string     `json:"source"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Effective lists what a subject may currently do.
type Effective struct {
	Roles     []string     `json:"roles"`
	Temporary []auth.Grant `json:"temporary"`
}

// Option customises a Gate.
type Option func(*Gate)

// WithClock overrides the time source used to evaluate grant expiry.
func WithClock(clock func() time.Time) Option {
	return func(g *Gate) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithSessions makes temporary grants depend on the session still being
// live. Grants of a revoked or expired session are cleared on first sight.
func WithSessions(sessions services.SessionLiveness) Option {
	return func(g *Gate) {
		g.sessions = sessions
	}
}

// Gate is the single authorization decision point.
type Gate struct {
	checker  *permissions.Checker
	grants   auth.GrantStore
	codes    CodeStatus
	sessions services.SessionLiveness
	audit    *services.AuditService
	now      func() time.Time
	log      *zap.Logger
}

// NewGate constructs a Gate. audit may be nil.
func NewGate(checker *permissions.Checker, grants auth.GrantStore, codes CodeStatus, audit *services.AuditService, opts ...Option) (*Gate, error) {
	if checker == nil {
		return nil, errors.New("authz: permission checker is required")
	}
	if grants == nil {
		return nil, errors.New("authz: grant store is required")
	}
	if codes == nil {
		return nil, errors.New("authz: code status is required")
	}

	g := &Gate{
		checker: checker,
		grants:  grants,
		codes:   codes,
		audit:   audit,
		now:     time.Now,
		log:     logger.WithModule("authz"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authorize decides whether subject may exercise permission. An empty
// permission only requires an active user. Denials return ErrForbidden along
// with the decision.
func (g *Gate) Authorize(ctx context.Context, subject Subject, permission string) (Decision, error) {
	permission = strings.TrimSpace(permission)
	decision := Decision{Permission: permission, Source: SourceNone}

	user, err := g.activeUser(ctx, subject, permission)
	if err != nil {
		return decision, err
	}

	if permission == "" {
		decision.Allowed = true
		decision.Source = SourceAuthenticated
		return decision, nil
	}

	if _, ok := permissions.Union(user.Roles)[permission]; ok {
		decision.Allowed = true
		decision.Source = SourceRole
		g.observe(decision)
		return decision, nil
	}

	grant, ok, err := g.liveGrant(ctx, subject.SessionID, permission)
	if err != nil {
		return decision, err
	}
	if ok {
		expiresAt := grant.ExpiresAt
		decision.Allowed = true
		decision.Source = SourceTemporary
		decision.ExpiresAt = &expiresAt
		g.observe(decision)
		return decision, nil
	}

	g.observe(decision)
	userID := user.ID
	services.RecordAudit(g.audit, ctx, services.AuditEntry{
		UserID:   &userID,
		Username: user.Username,
		Action:   "authz.denied",
		Resource: permission,
		Result:   services.AuditResultDenied,
		Metadata: map[string]any{
			"path":       subject.Route,
			"session_id": subject.SessionID,
		},
	})

	return decision, ErrForbidden
}

// Effective returns the subject's role permissions and live temporary grants.
func (g *Gate) Effective(ctx context.Context, subject Subject) (Effective, error) {
	user, err := g.activeUser(ctx, subject, "")
	if err != nil {
		return Effective{}, err
	}

	out := Effective{
		Roles:     permissions.SortedIDs(permissions.Union(user.Roles)),
		Temporary: []auth.Grant{},
	}
	if subject.SessionID == "" {
		return out, nil
	}

	grants, err := g.liveGrants(ctx, subject.SessionID)
	if err != nil {
		return Effective{}, err
	}
	for _, grant := range grants {
		out.Temporary = append(out.Temporary, grant)
	}
	sort.Slice(out.Temporary, func(i, j int) bool {
		return out.Temporary[i].Permission < out.Temporary[j].Permission
	})
	return out, nil
}

// activeUser loads the subject's account. Missing and deactivated accounts
// are audited as denials and reported as ErrUnauthenticated.
func (g *Gate) activeUser(ctx context.Context, subject Subject, permission string) (*models.User, error) {
	user, err := g.checker.LoadUser(ctx, subject.UserID)
	if err != nil {
		if !errors.Is(err, permissions.ErrUserNotFound) {
			return nil, fmt.Errorf("authz: load user: %w", err)
		}
		services.RecordAudit(g.audit, auditctx.WithoutUser(ctx), services.AuditEntry{
			Action:   "authz.denied",
			Resource: permission,
			Result:   services.AuditResultDenied,
			Metadata: map[string]any{
				"reason":     "unknown_user",
				"subject":    subject.UserID,
				"path":       subject.Route,
				"session_id": subject.SessionID,
			},
		})
		return nil, ErrUnauthenticated
	}

	if !user.IsActive {
		userID := user.ID
		services.RecordAudit(g.audit, ctx, services.AuditEntry{
			UserID:   &userID,
			Username: user.Username,
			Action:   "authz.denied",
			Resource: permission,
			Result:   services.AuditResultDenied,
			Metadata: map[string]any{
				"reason":     "account_inactive",
				"path":       subject.Route,
				"session_id": subject.SessionID,
			},
		})
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func (g *Gate) liveGrant(ctx context.Context, sessionID, permission string) (auth.Grant, bool, error) {
	if sessionID == "" {
		return auth.Grant{}, false, nil
	}
	grants, err := g.liveGrants(ctx, sessionID)
	if err != nil {
		return auth.Grant{}, false, err
	}
	grant, ok := grants[permission]
	return grant, ok, nil
}

// liveGrants loads the session's grants and drops those that have expired or
// whose code was revoked. A session that has ended holds no grants.
func (g *Gate) liveGrants(ctx context.Context, sessionID string) (map[string]auth.Grant, error) {
	if g.sessions != nil {
		active, err := g.sessions.ActiveSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("authz: session status: %w", err)
		}
		if !active {
			if err := g.grants.Clear(ctx, sessionID); err != nil {
				g.log.Warn("failed to clear grants of ended session",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
			return map[string]auth.Grant{}, nil
		}
	}

	grants, err := g.grants.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("authz: load grants: %w", err)
	}

	now := g.now()
	for permission, grant := range grants {
		live := grant.ActiveAt(now)
		if live {
			revoked, err := g.codes.Revoked(ctx, grant.CodeID)
			if err != nil {
				return nil, fmt.Errorf("authz: code status: %w", err)
			}
			live = !revoked
		}
		if live {
			continue
		}

		delete(grants, permission)
		if err := g.grants.Discard(ctx, sessionID, grant); err != nil {
			g.log.Warn("failed to drop stale grant",
				zap.String("session_id", sessionID),
				zap.String("permission", permission),
				zap.Error(err),
			)
		}
	}
	return grants, nil
}

func (g *Gate) observe(decision Decision) {
	label := decision.Permission
	if !permissions.Exists(label) {
		label = "unknown"
	}
	result := "denied"
	if decision.Allowed {
		result = "allowed"
	}
	metrics.PermissionChecks.WithLabelValues(label, result, decision.Source).Inc()
}
