package permissions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/clinicauth/internal/models"
)

// Sync upserts every registered permission. Running it repeatedly never
// creates duplicates; descriptions and modules are refreshed in place.
func Sync(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("permission: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ids := IDs()
	if len(ids) == 0 {
		return nil
	}

	all := GetAll()
	tx := db.WithContext(ctx)
	for _, id := range ids {
		perm := all[id]
		record := models.Permission{
			ID:          perm.ID,
			Module:      perm.Module,
			Description: perm.Description,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"module", "description", "updated_at"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("permission: sync %s: %w", perm.ID, err)
		}
	}

	return nil
}
