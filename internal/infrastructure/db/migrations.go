package db

import (
	"github.com/nightshift/backend/internal/domain"
	"gorm.io/gorm"
)

// RunMigrations is additive only: AutoMigrate creates missing tables,
// columns and indexes and never drops anything.
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.TaskLog{},
		&domain.PlatformUser{},
		&domain.UserPermission{},
		&domain.UserQuota{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Queue listing is always newest first, optionally per status.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_status_created
		ON tasks (status, created_at)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_task_logs_task_id_id
		ON task_logs (task_id, id)
	`).Error; err != nil {
		return err
	}

	return nil
}
