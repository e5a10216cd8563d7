package repository

import (
	"context"
	"errors"

	"github.com/canvas-studio/engine/internal/models"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository satisfies snapshots.Repository.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const newestFirst = "created_at DESC, id DESC"

func (r *SnapshotRepository) Create(ctx context.Context, s *models.VersionSnapshot) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return dbError(err, "create snapshot failed")
	}
	return nil
}

func (r *SnapshotRepository) List(ctx context.Context, workspaceID string) ([]models.VersionSnapshot, error) {
	var out []models.VersionSnapshot
	if err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order(newestFirst).Find(&out).Error; err != nil {
		return nil, dbError(err, "list snapshots failed")
	}
	return out, nil
}

// Latest returns nil without error when the workspace has no snapshot.
func (r *SnapshotRepository) Latest(ctx context.Context, workspaceID string) (*models.VersionSnapshot, error) {
	var s models.VersionSnapshot
	err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order(newestFirst).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get latest snapshot failed")
	}
	return &s, nil
}

func (r *SnapshotRepository) FindByID(ctx context.Context, workspaceID, id string) (*models.VersionSnapshot, error) {
	var s models.VersionSnapshot
	err := r.db.WithContext(ctx).Where("workspace_id = ? AND id = ?", workspaceID, id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appErr.New(appErr.CodeNotFound, "snapshot not found")
	}
	if err != nil {
		return nil, dbError(err, "get snapshot failed")
	}
	return &s, nil
}

// DeleteUnlessLast removes the snapshot when the workspace has at least one
// other. The workspace's snapshot rows stay locked between the count and the
// delete, so concurrent deletes cannot remove the last one.
func (r *SnapshotRepository) DeleteUnlessLast(ctx context.Context, workspaceID, id string) (bool, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return false, dbError(tx.Error, "begin transaction failed")
	}

	var ids []string
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(&models.VersionSnapshot{}).
		Where("workspace_id = ?", workspaceID).
		Pluck("id", &ids).Error
	if err != nil {
		tx.Rollback()
		return false, dbError(err, "lock snapshots failed")
	}
	found := false
	for _, sid := range ids {
		if sid == id {
			found = true
			break
		}
	}
	if !found {
		tx.Rollback()
		return false, appErr.New(appErr.CodeNotFound, "snapshot not found")
	}
	if len(ids) <= 1 {
		tx.Rollback()
		return false, nil
	}

	if err := tx.Where("workspace_id = ? AND id = ?", workspaceID, id).Delete(&models.VersionSnapshot{}).Error; err != nil {
		tx.Rollback()
		return false, dbError(err, "delete snapshot failed")
	}
	if err := tx.Commit().Error; err != nil {
		return false, dbError(err, "commit transaction failed")
	}
	return true, nil
}

func (r *SnapshotRepository) Count(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.VersionSnapshot{}).Where("workspace_id = ?", workspaceID).Count(&n).Error; err != nil {
		return 0, dbError(err, "count snapshots failed")
	}
	return n, nil
}

func (r *SnapshotRepository) TrimOldest(ctx context.Context, workspaceID string, keep int) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.VersionSnapshot{}).
		Where("workspace_id = ?", workspaceID).
		Order(newestFirst).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, dbError(err, "list snapshot ids failed")
	}
	if len(ids) <= keep {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("workspace_id = ? AND id IN ?", workspaceID, ids[keep:]).Delete(&models.VersionSnapshot{})
	if res.Error != nil {
		return 0, dbError(res.Error, "evict snapshots failed")
	}
	return res.RowsAffected, nil
}
