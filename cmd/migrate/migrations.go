package main

import (
	"gorm.io/gorm"

	"github.com/canvas-studio/engine/internal/models"
)

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}

	// Run custom migrations
	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle.
// They only apply to PostgreSQL.
func runCustomMigrations(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	migrations := []func(*gorm.DB) error{
		addBlockTagIndex,
		addChildBlockIndex,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// addBlockTagIndex makes tag filters on the jsonb column cheap
func addBlockTagIndex(db *gorm.DB) error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_blocks_tags ON blocks USING GIN (tags)`).Error
}

// addChildBlockIndex covers group lookups; most blocks have no parent
func addChildBlockIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_blocks_workspace_parent
		ON blocks(workspace_id, parent_id)
		WHERE parent_id IS NOT NULL
	`).Error
}
