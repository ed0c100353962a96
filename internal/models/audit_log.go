package models

import (
	"time"

	"github.com/charlesng35/clinicauth/internal/ids"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog rows are written once and never updated. IDs are ULIDs so entries
// created in the same instant keep their insertion order.
type AuditLog struct {
	ID        string         `gorm:"primaryKey;size:26" json:"id"`
	UserID    *string        `gorm:"size:36;index" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Username  string         `gorm:"size:80" json:"username"`
	Action    string         `gorm:"size:64;not null;index" json:"action"`
	Resource  string         `gorm:"size:128;index" json:"resource"`
	Result    string         `gorm:"size:16;not null" json:"result"`
	IPAddress string         `gorm:"size:64" json:"ip_address"`
	UserAgent string         `gorm:"size:255" json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		if a.CreatedAt.IsZero() {
			a.ID = ids.New()
		} else {
			a.ID = ids.NewAt(a.CreatedAt)
		}
	}
	return nil
}
