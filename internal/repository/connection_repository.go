package repository

import (
	"context"

	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"gorm.io/gorm"
)

type ConnectionRepository interface {
	reconcile.Store[models.Connection]
	// Create inserts one connection. A second connection with the same
	// (source, target, type) triple fails with CodeConflict.
	Create(ctx context.Context, c *models.Connection) error
}

type connectionRepository struct {
	*entityStore[models.Connection]
}

func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{entityStore: &entityStore[models.Connection]{db: db, name: "connection"}}
}

func (r *connectionRepository) Create(ctx context.Context, c *models.Connection) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		err = dbError(err, "create connection failed")
		if appErr.IsCode(err, appErr.CodeConflict) {
			return appErr.New(appErr.CodeConflict, "connection already exists").
				WithMeta("source_id", c.SourceID).
				WithMeta("target_id", c.TargetID).
				WithMeta("type", string(c.Type))
		}
		return err
	}
	return nil
}
