package models

// Role bundles permissions. Roles never reference other roles.
type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;size:80;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	Users       []User       `gorm:"many2many:user_roles;" json:"users,omitempty"`
}
