package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
)

var (
	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", http.StatusNotFound)
	// ErrSystemRoleImmutable prevents destructive operations on system roles.
	ErrSystemRoleImmutable = apperrors.New("ROLE_IMMUTABLE", "System roles cannot be modified", http.StatusBadRequest)
	// ErrRoleNameTaken is returned when a role name is already in use.
	ErrRoleNameTaken = apperrors.New("ROLE_EXISTS", "Role name already exists", http.StatusConflict)
	// ErrPermissionNotFound is returned for permission names outside the vocabulary.
	ErrPermissionNotFound = apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
)

// RoleService manages roles, the permissions attached to them and their
// assignment to users. Every mutation is audited.
type RoleService struct {
	db           *gorm.DB
	checker      *permissions.Checker
	auditService *AuditService
}

// NewRoleService constructs a RoleService using the provided database handle.
func NewRoleService(db *gorm.DB, audit *AuditService) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	checker, err := permissions.NewChecker(db)
	if err != nil {
		return nil, err
	}
	return &RoleService{
		db:           db,
		checker:      checker,
		auditService: audit,
	}, nil
}

// CreateRoleInput describes the payload accepted by CreateRole.
type CreateRoleInput struct {
	Name          string
	Description   string
	IsSystem      bool
	PermissionIDs []string
}

// UpdateRoleInput describes mutable fields on a role.
type UpdateRoleInput struct {
	Name        string
	Description *string
}

// CreateRole registers a new role, optionally with an initial permission set.
func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("role name is required")
	}

	role := &models.Role{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		IsSystem:    input.IsSystem,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(role).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrRoleNameTaken
			}
			return fmt.Errorf("role service: create role: %w", err)
		}
		ids := normaliseIDs(input.PermissionIDs)
		if len(ids) == 0 {
			return nil
		}
		perms, err := loadPermissions(tx, ids)
		if err != nil {
			return err
		}
		role.Permissions = perms
		return tx.Model(role).Association("Permissions").Replace(perms)
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.create",
		Resource: role.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"name":           role.Name,
			"is_system":      role.IsSystem,
			"permission_ids": permissionIDs(role.Permissions),
		},
	})

	return role, nil
}

// GetRole returns a role with its permissions.
func (s *RoleService) GetRole(ctx context.Context, roleID string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").First(&role, "id = ?", roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("role service: load role: %w", err)
	}
	return &role, nil
}

// UpdateRole renames a role or changes its description. System roles keep their name.
func (s *RoleService) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	role, err := s.loadRole(ctx, s.db, roleID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if role.IsSystem && name != "" && name != role.Name {
		return nil, ErrSystemRoleImmutable
	}

	updates := map[string]any{}
	if name != "" && name != role.Name {
		updates["name"] = name
	}
	if input.Description != nil {
		if desc := strings.TrimSpace(*input.Description); desc != role.Description {
			updates["description"] = desc
		}
	}

	if len(updates) == 0 {
		return s.GetRole(ctx, roleID)
	}

	if err := s.db.WithContext(ctx).Model(role).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrRoleNameTaken
		}
		return nil, fmt.Errorf("role service: update role: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.update",
		Resource: role.ID,
		Result:   AuditResultSuccess,
		Metadata: updates,
	})

	return s.GetRole(ctx, roleID)
}

// DeleteRole removes non-system roles permanently.
func (s *RoleService) DeleteRole(ctx context.Context, roleID string) error {
	ctx = ensureContext(ctx)

	role, err := s.loadRole(ctx, s.db, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(role).Association("Permissions").Clear(); err != nil {
			return fmt.Errorf("role service: clear role permissions: %w", err)
		}
		if err := tx.Model(role).Association("Users").Clear(); err != nil {
			return fmt.Errorf("role service: clear role users: %w", err)
		}
		if err := tx.Delete(role).Error; err != nil {
			return fmt.Errorf("role service: delete role: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.delete",
		Resource: role.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"name": role.Name},
	})

	return nil
}

// ListRoles returns all roles ordered by creation date.
func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	var roles []models.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").Order("created_at ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("role service: list roles: %w", err)
	}
	return roles, nil
}

// SetRolePermissions replaces the role's permissions with the provided set.
func (s *RoleService) SetRolePermissions(ctx context.Context, roleID string, ids []string) error {
	ctx = ensureContext(ctx)

	ids = normaliseIDs(ids)
	sort.Strings(ids)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, err := s.loadRole(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRoleImmutable
		}

		if len(ids) == 0 {
			return tx.Model(role).Association("Permissions").Clear()
		}

		perms, err := loadPermissions(tx, ids)
		if err != nil {
			return err
		}
		if err := tx.Model(role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("role service: update permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if ids == nil {
		ids = []string{}
	}
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.set_permissions",
		Resource: roleID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"permission_ids": ids},
	})

	return nil
}

// AttachPermission adds one permission to a role. Attaching twice is a no-op.
func (s *RoleService) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	ctx = ensureContext(ctx)

	role, err := s.loadRole(ctx, s.db, roleID)
	if err != nil {
		return err
	}
	perms, err := loadPermissions(s.db.WithContext(ctx), []string{permissionID})
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(role).Association("Permissions").Append(perms); err != nil {
		return fmt.Errorf("role service: attach permission: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.attach_permission",
		Resource: role.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"role": role.Name, "permission": permissionID},
	})
	return nil
}

// DetachPermission removes one permission from a role.
func (s *RoleService) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	ctx = ensureContext(ctx)

	role, err := s.loadRole(ctx, s.db, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}
	perms, err := loadPermissions(s.db.WithContext(ctx), []string{permissionID})
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(role).Association("Permissions").Delete(perms); err != nil {
		return fmt.Errorf("role service: detach permission: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.detach_permission",
		Resource: role.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"role": role.Name, "permission": permissionID},
	})
	return nil
}

// AssignRole grants a role to a user. Assigning twice is a no-op.
func (s *RoleService) AssignRole(ctx context.Context, userID, roleID string) error {
	ctx = ensureContext(ctx)

	user, role, err := s.loadUserAndRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Association("Roles").Append(role); err != nil {
		return fmt.Errorf("role service: assign role: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.assign",
		Resource: user.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"role": role.Name, "user": user.Username},
	})
	return nil
}

// RevokeRole removes a role from a user.
func (s *RoleService) RevokeRole(ctx context.Context, userID, roleID string) error {
	ctx = ensureContext(ctx)

	user, role, err := s.loadUserAndRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Association("Roles").Delete(role); err != nil {
		return fmt.Errorf("role service: revoke role: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "role.revoke",
		Resource: user.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"role": role.Name, "user": user.Username},
	})
	return nil
}

// ListUserPermissions resolves the permissions granted to the supplied user through roles.
func (s *RoleService) ListUserPermissions(ctx context.Context, userID string) ([]string, error) {
	perms, err := s.checker.GetUserPermissions(ensureContext(ctx), userID)
	if errors.Is(err, permissions.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return perms, err
}

func (s *RoleService) loadRole(ctx context.Context, db *gorm.DB, roleID string) (*models.Role, error) {
	var role models.Role
	if err := db.WithContext(ctx).First(&role, "id = ?", roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("role service: load role: %w", err)
	}
	return &role, nil
}

func (s *RoleService) loadUserAndRole(ctx context.Context, userID, roleID string) (*models.User, *models.Role, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("role service: load user: %w", err)
	}
	role, err := s.loadRole(ctx, s.db, roleID)
	if err != nil {
		return nil, nil, err
	}
	return &user, role, nil
}

func loadPermissions(db *gorm.DB, ids []string) ([]models.Permission, error) {
	for _, id := range ids {
		if !permissions.Exists(id) {
			return nil, ErrPermissionNotFound.WithMessage(fmt.Sprintf("%s %q", permissions.ErrUnknownPermission.Error(), id))
		}
	}

	var perms []models.Permission
	if err := db.Where("id IN ?", ids).Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("role service: load permissions: %w", err)
	}
	if len(perms) != len(ids) {
		return nil, ErrPermissionNotFound.WithMessage("permission vocabulary is not synchronised with the database")
	}
	return perms, nil
}

func permissionIDs(perms []models.Permission) []string {
	ids := make([]string, 0, len(perms))
	for _, perm := range perms {
		ids = append(ids, perm.ID)
	}
	sort.Strings(ids)
	return ids
}
