package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`CREATE SEQUENCE IF NOT EXISTS ` + repository.BatchSequenceName + ` START 1`).Error; err != nil {
				return err
			}
			if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_auto_send_batches_range ON auto_send_batches (date_from, date_to)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.BatchModel{}); err != nil {
				return err
			}
			return tx.Exec(`DROP SEQUENCE IF EXISTS ` + repository.BatchSequenceName).Error
		},
	}
}
