package services

import (
	"context"

	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/snapshots"
	"github.com/canvas-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// SnapshotService runs version operations against the stored graph of a
// workspace.
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, workspaceID string, input *CreateSnapshotInput) (*models.VersionSnapshot, error)
	ListSnapshots(ctx context.Context, workspaceID string) ([]models.VersionSnapshot, error)
	GetSnapshot(ctx context.Context, workspaceID, snapshotID string) (*models.VersionSnapshot, error)
	RestoreSnapshot(ctx context.Context, workspaceID, snapshotID string) (*RestoreResult, error)
	DeleteSnapshot(ctx context.Context, workspaceID, snapshotID string) (bool, error)
	CompareSnapshots(ctx context.Context, workspaceID, a, b string) (snapshots.Comparison, error)
}

type CreateSnapshotInput struct {
	Label       string
	Description *string
	Trigger     snapshots.Trigger
}

type RestoreResult struct {
	Graph  graph.Graph             `json:"graph"`
	Backup *models.VersionSnapshot `json:"backup"`
	Sync   SyncResult              `json:"sync"`
}

type snapshotService struct {
	graphs    *GraphStore
	snapshots *snapshots.Service
}

func NewSnapshotService(graphs *GraphStore, snaps *snapshots.Service) SnapshotService {
	return &snapshotService{graphs: graphs, snapshots: snaps}
}

var _ SnapshotService = (*snapshotService)(nil)

func (s *snapshotService) CreateSnapshot(ctx context.Context, workspaceID string, input *CreateSnapshotInput) (*models.VersionSnapshot, error) {
	g, err := s.graphs.Load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.snapshots.Create(ctx, snapshots.CreateParams{
		WorkspaceID: workspaceID,
		Graph:       g,
		Label:       input.Label,
		Description: input.Description,
		Trigger:     input.Trigger,
	})
}

func (s *snapshotService) ListSnapshots(ctx context.Context, workspaceID string) ([]models.VersionSnapshot, error) {
	return s.snapshots.List(ctx, workspaceID)
}

func (s *snapshotService) GetSnapshot(ctx context.Context, workspaceID, snapshotID string) (*models.VersionSnapshot, error) {
	return s.snapshots.Get(ctx, workspaceID, snapshotID)
}

// RestoreSnapshot backs up the stored graph, then saves the snapshot's graph
// over it.
func (s *snapshotService) RestoreSnapshot(ctx context.Context, workspaceID, snapshotID string) (*RestoreResult, error) {
	current, err := s.graphs.Load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	restored, backup, err := s.snapshots.Restore(ctx, workspaceID, snapshotID, current)
	if err != nil {
		return nil, err
	}
	res, err := s.graphs.Apply(ctx, workspaceID, restored)
	if err != nil {
		return nil, err
	}
	logger.L().Info("snapshot restored",
		zap.String("workspace_id", workspaceID),
		zap.String("snapshot_id", snapshotID),
		zap.String("backup_id", backup.ID),
	)
	return &RestoreResult{Graph: restored, Backup: backup, Sync: res}, nil
}

func (s *snapshotService) DeleteSnapshot(ctx context.Context, workspaceID, snapshotID string) (bool, error) {
	return s.snapshots.Delete(ctx, workspaceID, snapshotID)
}

func (s *snapshotService) CompareSnapshots(ctx context.Context, workspaceID, a, b string) (snapshots.Comparison, error) {
	return s.snapshots.Compare(ctx, workspaceID, a, b)
}
