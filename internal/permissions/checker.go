package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/models"
)

// ErrUserNotFound is returned when the identity no longer exists.
var ErrUserNotFound = errors.New("permission checker: user not found")

// Checker resolves a user's permanent permissions from the role graph.
type Checker struct {
	db *gorm.DB
}

// NewChecker constructs a permission checker backed by the provided database.
func NewChecker(db *gorm.DB) (*Checker, error) {
	if db == nil {
		return nil, errors.New("permission checker: db is required")
	}
	return &Checker{db: db}, nil
}

// LoadUser fetches the user with roles and their permissions preloaded.
func (c *Checker) LoadUser(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("permission checker: user id is required")
	}

	var user models.User
	err := c.db.WithContext(ctx).
		Preload("Roles.Permissions").
		First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("permission checker: load user: %w", err)
	}
	return &user, nil
}

// EffectivePermissions returns the union of the permissions of every role
// assigned to the user.
func (c *Checker) EffectivePermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	user, err := c.LoadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Union(user.Roles), nil
}

// Check reports whether any of the user's roles carries permissionID.
func (c *Checker) Check(ctx context.Context, userID, permissionID string) (bool, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return false, errors.New("permission checker: permission id is required")
	}

	perms, err := c.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := perms[permissionID]
	return ok, nil
}

// GetUserPermissions returns the distinct permission IDs granted to the user, sorted.
func (c *Checker) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	perms, err := c.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return SortedIDs(perms), nil
}

// Union collects the permission names carried by roles.
func Union(roles []models.Role) map[string]struct{} {
	perms := make(map[string]struct{})
	for _, role := range roles {
		for _, perm := range role.Permissions {
			perms[perm.ID] = struct{}{}
		}
	}
	return perms
}

// SortedIDs flattens a permission set into a sorted slice.
func SortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
