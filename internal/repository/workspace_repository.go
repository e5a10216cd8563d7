package repository

import (
	"context"

	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"gorm.io/gorm"
)

type WorkspaceRepository interface {
	BaseRepository[models.Workspace]
	List(ctx context.Context, ownerID string) ([]models.Workspace, error)
	UpdateViewport(ctx context.Context, id string, vp models.Viewport) error
	// ApplyGraph writes block ops, connection ops and, when vp is not nil,
	// the viewport in one transaction.
	ApplyGraph(ctx context.Context, id string, blocks []reconcile.Op[models.Block], connections []reconcile.Op[models.Connection], vp *models.Viewport) error
	// DeleteCascade removes the workspace with its blocks, connections and
	// snapshots in one transaction.
	DeleteCascade(ctx context.Context, id string) error
}

type workspaceRepository struct {
	BaseRepository[models.Workspace]
	db *gorm.DB
}

func NewWorkspaceRepository(db *gorm.DB) WorkspaceRepository {
	return &workspaceRepository{BaseRepository: NewBaseRepository[models.Workspace](db, "workspace"), db: db}
}

func (r *workspaceRepository) List(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	var out []models.Workspace
	q := r.db.WithContext(ctx).Order("updated_at DESC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "list workspaces failed")
	}
	return out, nil
}

func (r *workspaceRepository) UpdateViewport(ctx context.Context, id string, vp models.Viewport) error {
	return updateViewport(r.db.WithContext(ctx), id, vp)
}

func updateViewport(db *gorm.DB, id string, vp models.Viewport) error {
	res := db.Model(&models.Workspace{}).Where("id = ?", id).Updates(map[string]any{
		"viewport_x":    vp.X,
		"viewport_y":    vp.Y,
		"viewport_zoom": vp.Zoom,
	})
	if res.Error != nil {
		return dbError(res.Error, "update viewport failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "workspace not found")
	}
	return nil
}

func (r *workspaceRepository) ApplyGraph(ctx context.Context, id string, blocks []reconcile.Op[models.Block], connections []reconcile.Op[models.Connection], vp *models.Viewport) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "begin transaction failed")
	}

	if err := applyOps(tx, "block", id, blocks); err != nil {
		tx.Rollback()
		return err
	}
	if err := applyOps(tx, "connection", id, connections); err != nil {
		tx.Rollback()
		return err
	}
	if vp != nil {
		if err := updateViewport(tx, id, *vp); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "commit transaction failed")
	}
	return nil
}

func (r *workspaceRepository) DeleteCascade(ctx context.Context, id string) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "begin transaction failed")
	}

	for _, child := range []any{&models.Connection{}, &models.Block{}, &models.VersionSnapshot{}} {
		if err := tx.Where("workspace_id = ?", id).Delete(child).Error; err != nil {
			tx.Rollback()
			return dbError(err, "delete workspace contents failed")
		}
	}

	res := tx.Delete(&models.Workspace{}, "id = ?", id)
	if res.Error != nil {
		tx.Rollback()
		return dbError(res.Error, "delete workspace failed")
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return appErr.New(appErr.CodeNotFound, "workspace not found")
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "commit transaction failed")
	}
	return nil
}
