package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"gorm.io/gorm"
)

func createSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SettingsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SettingsModel{})
		},
	}
}
