package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/auditctx"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/pkg/crypto"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUserExists is returned when the username or email is already taken.
	ErrUserExists = apperrors.New("USER_EXISTS", "Username or email already exists", http.StatusConflict)
	// ErrSelfDeactivation prevents administrators from locking themselves out.
	ErrSelfDeactivation = apperrors.New("USER_SELF_DEACTIVATION", "You cannot deactivate your own account", http.StatusBadRequest)
)

// SessionRevoker ends every session of a user. Implemented by auth.SessionService.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	RoleIDs   []string
}

// UpdateUserInput enumerates mutable user attributes.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Phone     *string
}

// UserFilters captures listing filters.
type UserFilters struct {
	IsActive *bool
	Query    string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages staff accounts on behalf of administrators.
type UserService struct {
	db           *gorm.DB
	auditService *AuditService
	sessions     SessionRevoker
}

// NewUserService constructs a UserService instance. sessions may be nil, in
// which case deactivation leaves existing sessions to expire on their own.
func NewUserService(db *gorm.DB, auditService *AuditService, sessions SessionRevoker) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{
		db:           db,
		auditService: auditService,
		sessions:     sessions,
	}, nil
}

// Create provisions a new user with a hashed password and optional roles.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		return nil, apperrors.NewBadRequest("username is required")
	}
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if err := providers.ValidatePasswordStrength(input.Password); err != nil {
		return nil, apperrors.ErrWeakPassword
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username:  username,
		Email:     email,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Phone:     strings.TrimSpace(input.Phone),
		IsActive:  true,
	}

	roleIDs := normaliseIDs(input.RoleIDs)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			return nil
		}

		var roles []models.Role
		if err := tx.Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
			return fmt.Errorf("user service: load roles: %w", err)
		}
		if len(roles) != len(roleIDs) {
			return ErrRoleNotFound
		}
		if err := tx.Model(user).Association("Roles").Append(&roles); err != nil {
			return fmt.Errorf("user service: assign roles: %w", err)
		}
		user.Roles = roles
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "user.create",
		Resource: user.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"username": user.Username,
			"email":    user.Email,
			"roles":    user.RoleNames(),
		},
	})

	return user, nil
}

// GetByID loads a user by identifier including roles and their permissions.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Roles.Permissions").
		First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List retrieves users matching the supplied filters with pagination.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage := paginate(opts.Page, opts.PageSize, 50, 200)

	query := s.db.WithContext(ctx).Model(&models.User{})
	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Preload("Roles").
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists mutable profile attributes for an existing user.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	updates := map[string]any{}
	if input.Email != nil {
		if email := strings.ToLower(strings.TrimSpace(*input.Email)); email != "" && email != user.Email {
			updates["email"] = email
		}
	}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Phone != nil {
		updates["phone"] = strings.TrimSpace(*input.Phone)
	}

	if len(updates) == 0 {
		return s.GetByID(ctx, id)
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "user.update",
		Resource: user.ID,
		Result:   AuditResultSuccess,
		Metadata: updates,
	})

	return s.GetByID(ctx, id)
}

// SetActive toggles the active state of an account. Deactivation also ends
// the user's sessions, which drops any temporary grants they hold.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	if actor, ok := auditctx.FromContext(ctx); ok && !active && actor.UserID == id {
		return ErrSelfDeactivation
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user service: load user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("user service: update active state: %w", err)
	}

	if !active && s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, user.ID); err != nil {
			return fmt.Errorf("user service: revoke sessions: %w", err)
		}
	}

	action := "user.activate"
	if !active {
		action = "user.deactivate"
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   action,
		Resource: user.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"username": user.Username},
	})

	return nil
}

// ResetPassword sets a new password chosen by an administrator.
func (s *UserService) ResetPassword(ctx context.Context, id, newPassword string) error {
	ctx = ensureContext(ctx)

	if err := providers.ValidatePasswordStrength(newPassword); err != nil {
		return apperrors.ErrWeakPassword
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash new password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password":        hashed,
			"failed_attempts": 0,
			"locked_until":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("user service: reset password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "user.password_reset",
		Resource: id,
		Result:   AuditResultSuccess,
	})

	return nil
}
