// Package apitest runs the full HTTP API over a throwaway SQLite database
// for tests of the API and of its clients.
package apitest

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/canvas-studio/engine/internal/api"
	"github.com/canvas-studio/engine/internal/api/handlers"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/repository"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/internal/snapshots"
	"github.com/canvas-studio/engine/pkg/database"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Server struct {
	*httptest.Server
	DB         *gorm.DB
	Hub        *hub.Hub
	Workspaces services.WorkspaceService
	Snapshots  services.SnapshotService
}

// OpenDB opens a migrated SQLite database that is removed with the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
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
	return db
}

// New starts the API with inline snapshots and no rate limit.
func New(t testing.TB) *Server {
	t.Helper()
	db := OpenDB(t)

	wsRepo := repository.NewWorkspaceRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	connRepo := repository.NewConnectionRepository(db)
	graphs := services.NewGraphStore(wsRepo, blockRepo, connRepo)
	snaps := services.NewSnapshotService(graphs, snapshots.NewService(repository.NewSnapshotRepository(db)))
	workspaces := services.NewWorkspaceService(wsRepo, blockRepo, connRepo, graphs,
		services.NewSnapshotScheduler(nil, snaps), snapshots.NewAutoTracker(snapshots.AutoConfig{}, nil))

	h := hub.New()
	srv := httptest.NewServer(api.NewRouter(api.Dependencies{
		HealthHandler: handlers.NewHealthHandler(func(ctx context.Context) error {
			return database.Ping(ctx, db)
		}),
		WorkspacesHandler: handlers.NewWorkspacesHandler(workspaces, h),
		SnapshotsHandler:  handlers.NewSnapshotsHandler(snaps, h),
		StreamHandler:     handlers.NewStreamHandler(h, workspaces, time.Second),
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &Server{Server: srv, DB: db, Hub: h, Workspaces: workspaces, Snapshots: snaps}
}
