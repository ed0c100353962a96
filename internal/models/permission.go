package models

import "time"

// Permission is a named capability. The name doubles as the primary key.
type Permission struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Module      string    `gorm:"size:64;not null;index" json:"module"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Roles []Role `gorm:"many2many:role_permissions;" json:"roles,omitempty"`
}
