package services

import (
	"context"

	"github.com/canvas-studio/engine/internal/api/validators"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	"github.com/canvas-studio/engine/internal/repository"
	appErr "github.com/canvas-studio/engine/pkg/errors"
)

// SyncResult reports what a full-graph save changed.
type SyncResult struct {
	Blocks      reconcile.Result `json:"blocks"`
	Connections reconcile.Result `json:"connections"`
	// Changed is false when blocks and connections already matched.
	Changed bool `json:"changed"`
	// AutoSnapshot is the reason an automatic snapshot was scheduled, if any.
	AutoSnapshot string `json:"auto_snapshot,omitempty"`

	prevBlocks      int
	prevConnections int
}

// GraphStore loads and saves whole workspace graphs. Saving is
// last-writer-wins at workspace granularity.
type GraphStore struct {
	workspaces  repository.WorkspaceRepository
	blocks      repository.BlockRepository
	connections repository.ConnectionRepository
	blockEngine *reconcile.Engine[models.Block]
}

func NewGraphStore(workspaces repository.WorkspaceRepository, blocks repository.BlockRepository, connections repository.ConnectionRepository) *GraphStore {
	return &GraphStore{
		workspaces:  workspaces,
		blocks:      blocks,
		connections: connections,
		blockEngine: reconcile.NewEngine[models.Block]("block", blocks, reconcile.ValidateBlocks),
	}
}

func (s *GraphStore) Load(ctx context.Context, workspaceID string) (graph.Graph, error) {
	var ws models.Workspace
	if err := s.workspaces.GetByID(ctx, workspaceID, &ws); err != nil {
		return graph.Graph{}, err
	}
	blocks, err := s.blocks.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return graph.Graph{}, err
	}
	conns, err := s.connections.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return graph.Graph{}, err
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	if conns == nil {
		conns = []models.Connection{}
	}
	return graph.Graph{Blocks: blocks, Connections: conns, Viewport: ws.Viewport}, nil
}

// Apply reconciles blocks and connections and stores the viewport in a
// single transaction, so a save is either applied whole or not at all. Both
// desired sets are validated before anything is written. When the content
// is unchanged only the viewport is written.
func (s *GraphStore) Apply(ctx context.Context, workspaceID string, g graph.Graph) (SyncResult, error) {
	prev, err := s.Load(ctx, workspaceID)
	if err != nil {
		return SyncResult{}, err
	}
	g = claim(g, workspaceID)
	if g.Viewport == (models.Viewport{}) {
		g.Viewport = prev.Viewport
	}
	if err := validators.New().Struct(g.Viewport); err != nil {
		return SyncResult{}, appErr.Wrap(err, appErr.CodeInvalid, "viewport zoom must be between 0.1 and 4")
	}

	connEngine := reconcile.NewEngine[models.Connection]("connection", s.connections,
		reconcile.ConnectionValidator(reconcile.StaticBlockIDs(g.Blocks)))
	blockOps, blockRes, err := s.blockEngine.Prepare(ctx, workspaceID, g.Blocks)
	if err != nil {
		return SyncResult{}, err
	}
	connOps, connRes, err := connEngine.Prepare(ctx, workspaceID, g.Connections)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{
		Changed:         prev.ContentFingerprint() != g.ContentFingerprint(),
		prevBlocks:      len(prev.Blocks),
		prevConnections: len(prev.Connections),
	}
	if !res.Changed {
		blockOps, connOps = nil, nil
	}
	var vp *models.Viewport
	if g.Viewport != prev.Viewport {
		vp = &g.Viewport
	}
	if len(blockOps) == 0 && len(connOps) == 0 && vp == nil {
		return res, nil
	}

	if err := s.workspaces.ApplyGraph(ctx, workspaceID, blockOps, connOps, vp); err != nil {
		return SyncResult{}, reconcile.ApplyError("graph", err)
	}
	if res.Changed {
		res.Blocks, res.Connections = blockRes, connRes
		s.blockEngine.Committed(workspaceID, blockRes)
		connEngine.Committed(workspaceID, connRes)
	}
	return res, nil
}

// claim stamps workspaceID on entities that carry none. Entities naming
// another workspace are left alone and rejected by validation.
func claim(g graph.Graph, workspaceID string) graph.Graph {
	out := g.Clone()
	for i := range out.Blocks {
		if out.Blocks[i].WorkspaceID == "" {
			out.Blocks[i].WorkspaceID = workspaceID
		}
	}
	for i := range out.Connections {
		if out.Connections[i].WorkspaceID == "" {
			out.Connections[i].WorkspaceID = workspaceID
		}
	}
	return out
}
