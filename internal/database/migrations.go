package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/clinicauth/internal/models"
	"github.com/charlesng35/clinicauth/internal/permissions"
)

// AdminRoleName is the seeded system role holding every permission.
const AdminRoleName = "admin"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.Session{},
		&models.MFASecret{},
		&models.TemporaryAccessCode{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedData installs the permission vocabulary and the admin role. Every step
// is an upsert, so start-up may run it any number of times.
func SeedData(db *gorm.DB) error {
	ctx := context.Background()

	if err := permissions.Sync(ctx, db); err != nil {
		return err
	}

	admin := models.Role{
		Name:        AdminRoleName,
		Description: "Clinic administrator with every permission",
		IsSystem:    true,
	}
	if err := db.WithContext(ctx).
		Where(models.Role{Name: admin.Name}).
		Attrs(admin).
		FirstOrCreate(&admin).Error; err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}

	var perms []models.Permission
	if err := db.WithContext(ctx).Find(&perms).Error; err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	if len(perms) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Model(&admin).Association("Permissions").Append(&perms); err != nil {
		return fmt.Errorf("attach admin permissions: %w", err)
	}
	return nil
}
