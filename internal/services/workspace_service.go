package services

import (
	"context"

	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	"github.com/canvas-studio/engine/internal/repository"
	"github.com/canvas-studio/engine/internal/snapshots"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type WorkspaceService interface {
	CreateWorkspace(ctx context.Context, input *CreateWorkspaceInput) (*models.Workspace, error)
	GetWorkspace(ctx context.Context, workspaceID string) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context, ownerID string) ([]models.Workspace, error)
	DeleteWorkspace(ctx context.Context, workspaceID string) error

	LoadGraph(ctx context.Context, workspaceID string) (graph.Graph, error)
	SyncGraph(ctx context.Context, workspaceID string, g graph.Graph) (*SyncResult, error)
	CreateConnection(ctx context.Context, workspaceID string, input *CreateConnectionInput) (*models.Connection, error)
}

type CreateWorkspaceInput struct {
	Name        string
	Description string
	OwnerID     string
}

type CreateConnectionInput struct {
	SourceID string
	TargetID string
	Type     models.RelationshipType
	Label    *string
	Animated bool
	Style    datatypes.JSON
}

type workspaceService struct {
	workspaces  repository.WorkspaceRepository
	blocks      repository.BlockRepository
	connections repository.ConnectionRepository
	graphs      *GraphStore
	scheduler   SnapshotScheduler
	auto        *snapshots.AutoTracker
}

func NewWorkspaceService(
	workspaces repository.WorkspaceRepository,
	blocks repository.BlockRepository,
	connections repository.ConnectionRepository,
	graphs *GraphStore,
	scheduler SnapshotScheduler,
	auto *snapshots.AutoTracker,
) WorkspaceService {
	return &workspaceService{
		workspaces:  workspaces,
		blocks:      blocks,
		connections: connections,
		graphs:      graphs,
		scheduler:   scheduler,
		auto:        auto,
	}
}

var _ WorkspaceService = (*workspaceService)(nil)

func (s *workspaceService) CreateWorkspace(ctx context.Context, input *CreateWorkspaceInput) (*models.Workspace, error) {
	if input.Name == "" {
		return nil, appErr.New(appErr.CodeInvalid, "workspace name is required")
	}
	ws := &models.Workspace{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     input.OwnerID,
		Viewport:    models.DefaultViewport(),
	}
	if err := s.workspaces.Create(ctx, ws); err != nil {
		return nil, err
	}
	logger.L().Info("workspace created", zap.String("workspace_id", ws.ID), zap.String("owner_id", ws.OwnerID))
	return ws, nil
}

func (s *workspaceService) GetWorkspace(ctx context.Context, workspaceID string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.workspaces.GetByID(ctx, workspaceID, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *workspaceService) ListWorkspaces(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	return s.workspaces.List(ctx, ownerID)
}

func (s *workspaceService) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := s.workspaces.DeleteCascade(ctx, workspaceID); err != nil {
		return err
	}
	if s.auto != nil {
		s.auto.Forget(workspaceID)
	}
	logger.L().Info("workspace deleted", zap.String("workspace_id", workspaceID))
	return nil
}

func (s *workspaceService) LoadGraph(ctx context.Context, workspaceID string) (graph.Graph, error) {
	return s.graphs.Load(ctx, workspaceID)
}

// SyncGraph saves g as the full state of the workspace and schedules an
// automatic snapshot when the change warrants one. Scheduling failures are
// logged and never fail the save.
func (s *workspaceService) SyncGraph(ctx context.Context, workspaceID string, g graph.Graph) (*SyncResult, error) {
	res, err := s.graphs.Apply(ctx, workspaceID, g)
	if err != nil {
		return nil, err
	}

	if s.auto != nil && s.scheduler != nil && res.Changed {
		reason := s.auto.Observe(workspaceID, res.prevBlocks, res.prevConnections, len(g.Blocks), len(g.Connections))
		if reason != snapshots.ReasonNone {
			res.AutoSnapshot = string(reason)
			scheduleAuto(ctx, s.scheduler, workspaceID, reason)
		}
	}
	return &res, nil
}

// CreateConnection adds a single connection. A connection repeating an
// existing (source, target, type) triple is rejected with CodeConflict.
func (s *workspaceService) CreateConnection(ctx context.Context, workspaceID string, input *CreateConnectionInput) (*models.Connection, error) {
	if !input.Type.Valid() {
		return nil, appErr.Newf(appErr.CodeInvalid, "unknown relationship type %q", input.Type)
	}
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	ids, err := s.blocks.FindIDs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	c := &models.Connection{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		SourceID:    input.SourceID,
		TargetID:    input.TargetID,
		Type:        input.Type,
		Label:       input.Label,
		Animated:    input.Animated,
		Style:       input.Style,
	}
	if err := reconcile.ValidateConnections(ids, []models.Connection{*c}); err != nil {
		return nil, err
	}
	if err := s.connections.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.L().Info("connection created",
		zap.String("workspace_id", workspaceID),
		zap.String("connection_id", c.ID),
		zap.String("type", string(c.Type)),
	)
	return c, nil
}
