package repository

import (
	"context"
	"fmt"

	"github.com/canvas-studio/engine/internal/reconcile"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"gorm.io/gorm"
)

// entityStore is the gorm side of reconcile.Store for workspace-scoped
// tables.
type entityStore[T reconcile.Entity] struct {
	db   *gorm.DB
	name string
}

func (s *entityStore[T]) FindIDs(ctx context.Context, workspaceID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(new(T)).Where("workspace_id = ?", workspaceID).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "list "+s.name+" ids failed")
	}
	return ids, nil
}

func (s *entityStore[T]) ListByWorkspace(ctx context.Context, workspaceID string) ([]T, error) {
	var out []T
	if err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, dbError(err, "list "+s.name+" failed")
	}
	return out, nil
}

// Transaction applies ops in order inside one database transaction. Any
// failure rolls back every op.
func (s *entityStore[T]) Transaction(ctx context.Context, workspaceID string, ops []reconcile.Op[T]) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "begin transaction failed")
	}

	if err := applyOps(tx, s.name, workspaceID, ops); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "commit transaction failed")
	}
	return nil
}

// applyOps runs ops on tx, stopping at the first failure. The caller owns
// the transaction.
func applyOps[T reconcile.Entity](tx *gorm.DB, name, workspaceID string, ops []reconcile.Op[T]) error {
	for _, op := range ops {
		if err := applyOp(tx, name, workspaceID, op); err != nil {
			return err
		}
	}
	return nil
}

func applyOp[T reconcile.Entity](tx *gorm.DB, name, workspaceID string, op reconcile.Op[T]) error {
	switch op.Kind {
	case reconcile.OpDelete:
		res := tx.Where("workspace_id = ? AND id = ?", workspaceID, op.ID).Delete(new(T))
		if res.Error != nil {
			return dbError(res.Error, fmt.Sprintf("delete %s %s failed", name, op.ID))
		}
	case reconcile.OpUpdate:
		data := op.Data
		res := tx.Model(&data).Where("workspace_id = ?", workspaceID).Select("*").Omit("created_at").Updates(&data)
		if res.Error != nil {
			return dbError(res.Error, fmt.Sprintf("update %s %s failed", name, op.ID))
		}
		if res.RowsAffected == 0 {
			return appErr.Newf(appErr.CodeNotFound, "%s %s vanished during update", name, op.ID)
		}
	case reconcile.OpCreate:
		data := op.Data
		if err := tx.Create(&data).Error; err != nil {
			return dbError(err, fmt.Sprintf("create %s %s failed", name, op.ID))
		}
	default:
		return appErr.Newf(appErr.CodeInternal, "unknown op %q", op.Kind)
	}
	return nil
}
