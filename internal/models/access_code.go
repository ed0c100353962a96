package models

import "time"

// Use types accepted for temporary access codes.
const (
	UseTypeSingle = "single-use"
	UseTypeMulti  = "multi-use"
)

// TemporaryAccessCode grants one permission to whoever activates it before
// ExpiresAt, or only to BoundUserID when set. TimesUsed and IsActive change
// only through activation and revocation.
type TemporaryAccessCode struct {
	BaseModel

	Code         string      `gorm:"uniqueIndex;size:32;not null" json:"code"`
	PermissionID string      `gorm:"size:64;not null;index" json:"permission_id"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`

	BoundUserID *string `gorm:"size:36;index" json:"bound_user_id"`
	BoundUser   *User   `gorm:"foreignKey:BoundUserID" json:"bound_user,omitempty"`
	CreatedBy   *string `gorm:"size:36" json:"created_by"`

	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	UseType    string     `gorm:"size:16;not null;default:single-use" json:"use_type"`
	TimesUsed  int        `gorm:"not null;default:0" json:"times_used"`
	IsActive   bool       `gorm:"not null;default:true;index" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	RevokedBy  *string    `gorm:"size:36" json:"revoked_by"`
}

// TableName pins the table name used by the conditional consume statement.
func (TemporaryAccessCode) TableName() string {
	return "temporary_access_codes"
}

// SingleUse reports whether the code may be activated only once.
func (c *TemporaryAccessCode) SingleUse() bool {
	return c.UseType != UseTypeMulti
}

// Consumed reports whether a single-use code has already been activated.
func (c *TemporaryAccessCode) Consumed() bool {
	return c.SingleUse() && c.TimesUsed > 0
}

// ExpiredAt reports whether the code is unusable at now.
func (c *TemporaryAccessCode) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
