package models

import (
	"time"
)

// User is a clinic staff identity. Username and email are unique across the
// store; the password column only ever holds a bcrypt hash.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;size:80;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;size:120;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `gorm:"size:50" json:"first_name"`
	LastName  string `gorm:"size:50" json:"last_name"`
	Phone     string `gorm:"size:20" json:"phone"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	MFAEnabled bool       `gorm:"default:false" json:"mfa_enabled"`
	MFASecret  *MFASecret `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	Roles    []Role    `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// RoleNames returns the names of the loaded roles.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	return names
}
