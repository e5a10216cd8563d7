// Package snapshots keeps durable, labeled versions of a workspace graph,
// independent of the per-session undo stack.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/metrics"
	"github.com/canvas-studio/engine/internal/models"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const DefaultCap = 50

type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerAuto    Trigger = "auto"
	TriggerRestore Trigger = "restore"
)

// Repository persists snapshots. List returns newest first.
type Repository interface {
	Create(ctx context.Context, s *models.VersionSnapshot) error
	List(ctx context.Context, workspaceID string) ([]models.VersionSnapshot, error)
	Latest(ctx context.Context, workspaceID string) (*models.VersionSnapshot, error)
	FindByID(ctx context.Context, workspaceID, id string) (*models.VersionSnapshot, error)
	// DeleteUnlessLast deletes the snapshot atomically unless it is the only
	// one of the workspace, reporting whether it did.
	DeleteUnlessLast(ctx context.Context, workspaceID, id string) (bool, error)
	// TrimOldest deletes the oldest snapshots so that at most keep remain.
	TrimOldest(ctx context.Context, workspaceID string, keep int) (int64, error)
}

type CreateParams struct {
	WorkspaceID string
	Graph       graph.Graph
	Label       string
	Description *string
	Trigger     Trigger
}

type Service struct {
	repo Repository
	cap  int
	now  func() time.Time
}

type Option func(*Service)

// WithCap sets how many snapshots a workspace keeps.
func WithCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cap = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, cap: DefaultCap, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a copy of p.Graph with a change summary against the most
// recent snapshot, then evicts the oldest snapshots beyond the cap.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.VersionSnapshot, error) {
	if p.WorkspaceID == "" {
		return nil, appErr.New(appErr.CodeInvalid, "workspace id is required")
	}
	if p.Label == "" {
		return nil, appErr.New(appErr.CodeInvalid, "snapshot label is required")
	}
	if p.Trigger == "" {
		p.Trigger = TriggerManual
	}

	latest, err := s.repo.Latest(ctx, p.WorkspaceID)
	if err != nil {
		return nil, err
	}
	var prev graph.Graph
	if latest != nil {
		prev = GraphOf(*latest)
	}

	g := p.Graph.Clone()
	snap := &models.VersionSnapshot{
		ID:          uuid.NewString(),
		WorkspaceID: p.WorkspaceID,
		Label:       p.Label,
		Description: p.Description,
		Blocks:      datatypes.JSONSlice[models.Block](g.Blocks),
		Connections: datatypes.JSONSlice[models.Connection](g.Connections),
		Summary:     datatypes.NewJSONType(graph.Diff(prev, g)),
		Auto:        p.Trigger == TriggerAuto,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, snap); err != nil {
		return nil, err
	}
	evicted, err := s.repo.TrimOldest(ctx, p.WorkspaceID, s.cap)
	if err != nil {
		// The new snapshot is stored; a late trim only leaves extras behind.
		logger.L().Warn("snapshot eviction failed", zap.String("workspace_id", p.WorkspaceID), zap.Error(err))
	}

	metrics.SnapshotsCreated.WithLabelValues(string(p.Trigger)).Inc()
	logger.L().Info("snapshot created",
		zap.String("workspace_id", p.WorkspaceID),
		zap.String("snapshot_id", snap.ID),
		zap.String("trigger", string(p.Trigger)),
		zap.Int("changes", snap.Summary.Data().Total()),
		zap.Int64("evicted", evicted),
	)
	return snap, nil
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]models.VersionSnapshot, error) {
	return s.repo.List(ctx, workspaceID)
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (*models.VersionSnapshot, error) {
	return s.repo.FindByID(ctx, workspaceID, id)
}

// Restore backs up current as "before restore to <label>" and returns a deep
// copy of the target snapshot's graph for the caller to install. The
// viewport of current is kept.
func (s *Service) Restore(ctx context.Context, workspaceID, id string, current graph.Graph) (graph.Graph, *models.VersionSnapshot, error) {
	target, err := s.repo.FindByID(ctx, workspaceID, id)
	if err != nil {
		return graph.Graph{}, nil, err
	}
	backup, err := s.Create(ctx, CreateParams{
		WorkspaceID: workspaceID,
		Graph:       current,
		Label:       fmt.Sprintf("before restore to %s", target.Label),
		Trigger:     TriggerRestore,
	})
	if err != nil {
		return graph.Graph{}, nil, err
	}
	restored := GraphOf(*target).Clone()
	restored.Viewport = current.Viewport
	return restored, backup, nil
}

// Delete removes a snapshot unless it is the last one of the workspace, in
// which case nothing happens and deleted is false.
func (s *Service) Delete(ctx context.Context, workspaceID, id string) (deleted bool, err error) {
	deleted, err = s.repo.DeleteUnlessLast(ctx, workspaceID, id)
	if err != nil {
		return false, err
	}
	if deleted {
		logger.L().Info("snapshot deleted", zap.String("workspace_id", workspaceID), zap.String("snapshot_id", id))
	}
	return deleted, nil
}

// Ref identifies one side of a comparison.
type Ref struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Comparison is the difference from Older to Newer.
type Comparison struct {
	Older           Ref      `json:"older"`
	Newer           Ref      `json:"newer"`
	Added           []string `json:"added"`
	Modified        []string `json:"modified"`
	Removed         []string `json:"removed"`
	BlockDelta      int      `json:"block_delta"`
	ConnectionDelta int      `json:"connection_delta"`
	NetDelta        int      `json:"net_delta"`
	ElapsedDays     int      `json:"elapsed_days"`
}

// Compare diffs two snapshots in chronological order, whichever order the
// ids are given in.
func (s *Service) Compare(ctx context.Context, workspaceID, a, b string) (Comparison, error) {
	sa, err := s.repo.FindByID(ctx, workspaceID, a)
	if err != nil {
		return Comparison{}, err
	}
	sb, err := s.repo.FindByID(ctx, workspaceID, b)
	if err != nil {
		return Comparison{}, err
	}
	return CompareSnapshots(*sa, *sb), nil
}

func CompareSnapshots(a, b models.VersionSnapshot) Comparison {
	older, newer := a, b
	if b.CreatedAt.Before(a.CreatedAt) {
		older, newer = b, a
	}
	sum := graph.Diff(GraphOf(older), GraphOf(newer))
	blockDelta := len(newer.Blocks) - len(older.Blocks)
	connDelta := len(newer.Connections) - len(older.Connections)
	return Comparison{
		Older:           refOf(older),
		Newer:           refOf(newer),
		Added:           sum.Added,
		Modified:        sum.Modified,
		Removed:         sum.Removed,
		BlockDelta:      blockDelta,
		ConnectionDelta: connDelta,
		NetDelta:        blockDelta + connDelta,
		ElapsedDays:     int(newer.CreatedAt.Sub(older.CreatedAt) / (24 * time.Hour)),
	}
}

// GraphOf views the stored entities of a snapshot as a graph. The result
// shares memory with snap.
func GraphOf(snap models.VersionSnapshot) graph.Graph {
	return graph.Graph{
		Blocks:      []models.Block(snap.Blocks),
		Connections: []models.Connection(snap.Connections),
	}
}

func refOf(s models.VersionSnapshot) Ref {
	return Ref{ID: s.ID, Label: s.Label, CreatedAt: s.CreatedAt}
}
