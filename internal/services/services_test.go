package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	"github.com/canvas-studio/engine/internal/repository"
	"github.com/canvas-studio/engine/internal/snapshots"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.Use(zap.NewNop())
	os.Exit(m.Run())
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, p SnapshotPayload) error {
	return m.Called(ctx, p).Error(0)
}

type fixture struct {
	workspaces WorkspaceService
	snapshots  SnapshotService
	scheduler  *mockScheduler
	snapRepo   *repository.SnapshotRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	wsRepo := repository.NewWorkspaceRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	connRepo := repository.NewConnectionRepository(db)
	snapRepo := repository.NewSnapshotRepository(db)
	graphs := NewGraphStore(wsRepo, blockRepo, connRepo)
	sched := &mockScheduler{}

	return &fixture{
		workspaces: NewWorkspaceService(wsRepo, blockRepo, connRepo, graphs, sched, snapshots.NewAutoTracker(snapshots.AutoConfig{}, nil)),
		snapshots:  NewSnapshotService(graphs, snapshots.NewService(snapRepo)),
		scheduler:  sched,
		snapRepo:   snapRepo,
	}
}

func (f *fixture) workspace(t *testing.T) string {
	t.Helper()
	ws, err := f.workspaces.CreateWorkspace(context.Background(), &CreateWorkspaceInput{Name: "Launch plan"})
	require.NoError(t, err)
	return ws.ID
}

func blk(id, title string) models.Block {
	return models.Block{
		ID: id, Title: title,
		Type: models.BlockPainPoint, Company: models.CompanyLabs, Status: models.StatusDraft,
	}
}

func conn(id, src, tgt string, typ models.RelationshipType) models.Connection {
	return models.Connection{ID: id, SourceID: src, TargetID: tgt, Type: typ}
}

func TestSyncGraphScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	res, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{
		Blocks:      []models.Block{blk("b1", "Slow onboarding"), blk("b2", "Guided setup")},
		Connections: []models.Connection{conn("c1", "b2", "b1", models.RelSolves)},
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, reconcile.Result{Created: 2}, res.Blocks)
	assert.Equal(t, reconcile.Result{Created: 1}, res.Connections)

	res, err = f.workspaces.SyncGraph(ctx, wsID, graph.Graph{
		Blocks:   []models.Block{blk("b1", "Slow onboarding (SMB)"), blk("b3", "Templates")},
		Viewport: models.Viewport{X: 100, Y: 50, Zoom: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.Result{Created: 1, Updated: 1, Deleted: 1}, res.Blocks)
	assert.Equal(t, reconcile.Result{Deleted: 1}, res.Connections)

	g, err := f.workspaces.LoadGraph(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 2)
	assert.Empty(t, g.Connections)
	b1, ok := g.BlockByID("b1")
	require.True(t, ok)
	assert.Equal(t, "Slow onboarding (SMB)", b1.Title)
	assert.Equal(t, wsID, b1.WorkspaceID)
	assert.Equal(t, models.Viewport{X: 100, Y: 50, Zoom: 0.5}, g.Viewport)
}

func TestSyncGraphValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	tests := []struct {
		name string
		g    graph.Graph
		code appErr.Code
	}{
		{
			name: "dangling connection",
			g: graph.Graph{
				Blocks:      []models.Block{blk("b1", "A")},
				Connections: []models.Connection{conn("c1", "b1", "ghost", models.RelSupports)},
			},
			code: appErr.CodeInvalid,
		},
		{
			name: "duplicate triple",
			g: graph.Graph{
				Blocks: []models.Block{blk("b1", "A"), blk("b2", "B")},
				Connections: []models.Connection{
					conn("c1", "b1", "b2", models.RelSolves),
					conn("c2", "b1", "b2", models.RelSolves),
				},
			},
			code: appErr.CodeConflict,
		},
		{
			name: "foreign workspace",
			g: func() graph.Graph {
				b := blk("b1", "A")
				b.WorkspaceID = "someone-else"
				return graph.Graph{Blocks: []models.Block{b}}
			}(),
			code: appErr.CodeInvalid,
		},
		{
			name: "bad viewport",
			g:    graph.Graph{Viewport: models.Viewport{X: 1, Zoom: -1}},
			code: appErr.CodeInvalid,
		},
		{
			name: "zoom above range",
			g:    graph.Graph{Blocks: []models.Block{blk("b1", "A")}, Viewport: models.Viewport{Zoom: 40}},
			code: appErr.CodeInvalid,
		},
		{
			name: "zoom below range",
			g:    graph.Graph{Viewport: models.Viewport{Zoom: 0.05}},
			code: appErr.CodeInvalid,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.workspaces.SyncGraph(ctx, wsID, tc.g)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErr.CodeOf(err))

			g, err := f.workspaces.LoadGraph(ctx, wsID)
			require.NoError(t, err)
			assert.Empty(t, g.Blocks)
			assert.Empty(t, g.Connections)
		})
	}
}

func TestSyncGraphSwapsConnectionTriples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	_, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{
		Blocks: []models.Block{blk("b1", "A"), blk("b2", "B")},
		Connections: []models.Connection{
			conn("c1", "b1", "b2", models.RelSolves),
			conn("c2", "b2", "b1", models.RelSolves),
		},
	})
	require.NoError(t, err)

	res, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{
		Blocks: []models.Block{blk("b1", "A renamed"), blk("b2", "B")},
		Connections: []models.Connection{
			conn("c1", "b2", "b1", models.RelSolves),
			conn("c2", "b1", "b2", models.RelSolves),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.Result{Updated: 2}, res.Connections)

	g, err := f.workspaces.LoadGraph(ctx, wsID)
	require.NoError(t, err)
	b1, ok := g.BlockByID("b1")
	require.True(t, ok)
	assert.Equal(t, "A renamed", b1.Title)
	ends := map[string]string{}
	for _, c := range g.Connections {
		ends[c.ID] = c.SourceID + "->" + c.TargetID
	}
	assert.Equal(t, map[string]string{"c1": "b2->b1", "c2": "b1->b2"}, ends)
}

func TestSyncGraphZoomRangeIsInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	for _, zoom := range []float64{0.1, 4} {
		_, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Viewport: models.Viewport{Zoom: zoom}})
		require.NoError(t, err)
		g, err := f.workspaces.LoadGraph(ctx, wsID)
		require.NoError(t, err)
		assert.Equal(t, zoom, g.Viewport.Zoom)
	}
}

func TestSyncGraphUnknownWorkspace(t *testing.T) {
	f := newFixture(t)
	_, err := f.workspaces.SyncGraph(context.Background(), "missing", graph.Graph{})
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestSyncGraphUnchangedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)
	g := graph.Graph{Blocks: []models.Block{blk("b1", "A")}}

	_, err := f.workspaces.SyncGraph(ctx, wsID, g)
	require.NoError(t, err)
	res, err := f.workspaces.SyncGraph(ctx, wsID, g)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, reconcile.Result{}, res.Blocks)
}

func TestSyncGraphSchedulesAutoSnapshotOnLargeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	f.scheduler.On("Schedule", mock.Anything, mock.MatchedBy(func(p SnapshotPayload) bool {
		return p.WorkspaceID == wsID && p.Trigger == snapshots.TriggerAuto && p.Label != ""
	})).Return(nil).Once()

	res, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{
		blk("b1", "1"), blk("b2", "2"), blk("b3", "3"), blk("b4", "4"), blk("b5", "5"),
	}})
	require.NoError(t, err)
	assert.Equal(t, string(snapshots.ReasonLarge), res.AutoSnapshot)

	res, err = f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{
		blk("b1", "1!"), blk("b2", "2"), blk("b3", "3"), blk("b4", "4"), blk("b5", "5"),
	}})
	require.NoError(t, err)
	assert.Empty(t, res.AutoSnapshot)

	f.scheduler.AssertExpectations(t)
}

func TestAutoSnapshotSweeperCatchesQuietWorkspaces(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tracker := snapshots.NewAutoTracker(snapshots.AutoConfig{Interval: 5 * time.Minute}, func() time.Time { return now })
	sched := &mockScheduler{}
	sweeper := NewAutoSnapshotSweeper(tracker, sched)
	ctx := context.Background()

	// One small edit, then nothing.
	assert.Equal(t, snapshots.ReasonNone, tracker.Observe("ws-1", 3, 0, 4, 0))
	now = now.Add(time.Minute)
	assert.Zero(t, sweeper.Sweep(ctx))

	sched.On("Schedule", mock.Anything, mock.MatchedBy(func(p SnapshotPayload) bool {
		return p.WorkspaceID == "ws-1" && p.Trigger == snapshots.TriggerAuto
	})).Return(nil).Once()
	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.Zero(t, sweeper.Sweep(ctx))

	sched.AssertExpectations(t)
}

func TestCreateConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)
	_, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{blk("b1", "Pain"), blk("b2", "Fix")}})
	require.NoError(t, err)

	in := &CreateConnectionInput{SourceID: "b2", TargetID: "b1", Type: models.RelSolves}
	first, err := f.workspaces.CreateConnection(ctx, wsID, in)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = f.workspaces.CreateConnection(ctx, wsID, in)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	g, err := f.workspaces.LoadGraph(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, g.Connections, 1)
	assert.Equal(t, first.ID, g.Connections[0].ID)

	_, err = f.workspaces.CreateConnection(ctx, wsID, &CreateConnectionInput{SourceID: "b1", TargetID: "nope", Type: models.RelSolves})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	_, err = f.workspaces.CreateConnection(ctx, wsID, &CreateConnectionInput{SourceID: "b1", TargetID: "b2", Type: "likes"})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestRestoreSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	_, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{blk("b1", "Original")}})
	require.NoError(t, err)
	milestone, err := f.snapshots.CreateSnapshot(ctx, wsID, &CreateSnapshotInput{Label: "milestone"})
	require.NoError(t, err)

	_, err = f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{blk("b1", "Rewritten"), blk("b2", "Extra")}})
	require.NoError(t, err)

	res, err := f.snapshots.RestoreSnapshot(ctx, wsID, milestone.ID)
	require.NoError(t, err)
	assert.Equal(t, "before restore to milestone", res.Backup.Label)
	assert.Equal(t, reconcile.Result{Updated: 1, Deleted: 1}, res.Sync.Blocks)

	g, err := f.workspaces.LoadGraph(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 1)
	assert.Equal(t, "Original", g.Blocks[0].Title)

	list, err := f.snapshots.ListSnapshots(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	backup := list[0]
	require.Len(t, backup.Blocks, 2)
}

func TestInlineSchedulerCreatesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)

	sched := NewSnapshotScheduler(nil, f.snapshots)
	require.NoError(t, sched.Schedule(ctx, SnapshotPayload{WorkspaceID: wsID, Label: "auto", Trigger: snapshots.TriggerAuto}))

	list, err := f.snapshots.ListSnapshots(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Auto)
}

func TestDeleteWorkspaceCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wsID := f.workspace(t)
	_, err := f.workspaces.SyncGraph(ctx, wsID, graph.Graph{Blocks: []models.Block{blk("b1", "A")}})
	require.NoError(t, err)
	_, err = f.snapshots.CreateSnapshot(ctx, wsID, &CreateSnapshotInput{Label: "v1"})
	require.NoError(t, err)

	require.NoError(t, f.workspaces.DeleteWorkspace(ctx, wsID))
	_, err = f.workspaces.GetWorkspace(ctx, wsID)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	n, err := f.snapRepo.Count(ctx, wsID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotTaskPayload(t *testing.T) {
	task, err := NewSnapshotTask(SnapshotPayload{WorkspaceID: "ws-1", Label: "x", Trigger: snapshots.TriggerAuto})
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshotCreate, task.Type())
	assert.JSONEq(t, `{"workspace_id":"ws-1","label":"x","trigger":"auto"}`, string(task.Payload()))
}
