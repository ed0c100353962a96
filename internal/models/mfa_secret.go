package models

import (
	"time"

	"gorm.io/datatypes"
)

// MFASecret stores the encrypted TOTP seed and bcrypt-hashed backup codes.
type MFASecret struct {
	BaseModel

	UserID      string         `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Secret      string         `gorm:"not null" json:"-"`
	BackupCodes datatypes.JSON `json:"-"`
	LastUsedAt  *time.Time     `json:"last_used_at"`
}
