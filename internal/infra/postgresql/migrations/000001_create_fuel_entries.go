package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"gorm.io/gorm"
)

// The delivery registry owns fuel_entries; creating it here keeps local and test databases usable.
func createFuelEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_fuel_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.FuelEntryModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_fuel_entries_delivered ON fuel_entries (delivered_at, created_at, id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FuelEntryModel{})
		},
	}
}
