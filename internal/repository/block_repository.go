package repository

import (
	"context"

	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	"gorm.io/gorm"
)

type BlockRepository interface {
	reconcile.Store[models.Block]
	FindIDs(ctx context.Context, workspaceID string) ([]string, error)
}

func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &entityStore[models.Block]{db: db, name: "block"}
}
