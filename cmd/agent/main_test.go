package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/canvas-studio/engine/internal/autosave"
	"github.com/canvas-studio/engine/internal/editor"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Use(zap.NewNop())
	os.Exit(m.Run())
}

func newSession(t *testing.T) *editor.Session {
	t.Helper()
	s := editor.Open(graph.Graph{Viewport: models.DefaultViewport()}, editor.Options{
		WorkspaceID: "ws-1",
		Autosave:    autosave.Options{Debounce: time.Hour},
		Saver:       autosave.SaverFunc(func(context.Context, graph.Graph) error { return nil }),
	})
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestRunCommands(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	_, err := run(ctx, s, nil, []string{"add", "Free", "trial"})
	require.NoError(t, err)
	g := s.Graph()
	require.Len(t, g.Blocks, 1)
	assert.Equal(t, "Free trial", g.Blocks[0].Title)
	id := g.Blocks[0].ID

	_, err = run(ctx, s, nil, []string{"move", id, "12.5", "-3"})
	require.NoError(t, err)
	assert.Equal(t, models.Position{X: 12.5, Y: -3}, s.Graph().Blocks[0].Position)

	_, err = run(ctx, s, nil, []string{"move", "nope", "1", "1"})
	assert.Error(t, err)
	_, err = run(ctx, s, nil, []string{"move", id, "x", "1"})
	assert.Error(t, err)

	_, err = run(ctx, s, nil, []string{"rm", id})
	require.NoError(t, err)
	assert.Empty(t, s.Graph().Blocks)

	_, err = run(ctx, s, nil, []string{"undo"})
	require.NoError(t, err)
	assert.Len(t, s.Graph().Blocks, 1)

	quit, err := run(ctx, s, nil, []string{"quit"})
	require.NoError(t, err)
	assert.True(t, quit)

	_, err = run(ctx, s, nil, []string{"dance"})
	assert.Error(t, err)
}

func TestRemoveBlockDropsEdgesAndParents(t *testing.T) {
	parent := "p"
	g := graph.Graph{
		Blocks: []models.Block{{ID: "p"}, {ID: "c", ParentID: &parent}, {ID: "o"}},
		Connections: []models.Connection{
			{ID: "e1", SourceID: "p", TargetID: "o"},
			{ID: "e2", SourceID: "c", TargetID: "o"},
		},
	}
	require.NoError(t, removeBlock(&g, "p"))
	require.Len(t, g.Blocks, 2)
	assert.Nil(t, g.Blocks[0].ParentID)
	require.Len(t, g.Connections, 1)
	assert.Equal(t, "e2", g.Connections[0].ID)

	assert.Error(t, removeBlock(&g, "p"))
}
