package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_recipients",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.RecipientModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientModel{})
		},
	}
}
