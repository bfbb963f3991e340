package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_batch_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchItemModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_auto_send_batch_items_sequence ON auto_send_batch_items (batch_id, sequence)`,
				`CREATE INDEX IF NOT EXISTS idx_auto_send_batch_items_status ON auto_send_batch_items (batch_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_auto_send_batch_items_pending ON auto_send_batch_items (batch_id) WHERE status = 'PENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchItemModel{})
		},
	}
}
