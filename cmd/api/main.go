package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/canvas-studio/engine/internal/api"
	"github.com/canvas-studio/engine/internal/api/handlers"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/repository"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/internal/snapshots"
	"github.com/canvas-studio/engine/pkg/config"
	"github.com/canvas-studio/engine/pkg/database"
	"github.com/canvas-studio/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting workspace sync engine",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Initialize repositories
	workspaceRepo := repository.NewWorkspaceRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	// Snapshots go through the worker queue when Redis is configured
	var queue *asynq.Client
	if cfg.RedisAddr != "" {
		queue = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer queue.Close()
	}

	// Initialize services
	graphs := services.NewGraphStore(workspaceRepo, blockRepo, connectionRepo)
	snapshotSvc := services.NewSnapshotService(graphs, snapshots.NewService(snapshotRepo, snapshots.WithCap(cfg.SnapshotCap)))
	scheduler := services.NewSnapshotScheduler(queue, snapshotSvc)
	autoTracker := snapshots.NewAutoTracker(snapshots.AutoConfig{Interval: cfg.SnapshotInterval}, nil)
	workspaceSvc := services.NewWorkspaceService(
		workspaceRepo, blockRepo, connectionRepo, graphs, scheduler, autoTracker,
	)

	// Interval snapshots for workspaces that stopped receiving saves
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sweepEvery := cfg.SnapshotInterval / 5
	if sweepEvery < time.Second {
		sweepEvery = time.Second
	}
	go services.NewAutoSnapshotSweeper(autoTracker, scheduler).Run(sweepCtx, sweepEvery)

	broadcast := hub.New()

	// Create router with dependencies
	router := api.NewRouter(api.Dependencies{
		HealthHandler: handlers.NewHealthHandler(func(ctx context.Context) error {
			return database.Ping(ctx, db)
		}),
		WorkspacesHandler: handlers.NewWorkspacesHandler(workspaceSvc, broadcast),
		SnapshotsHandler:  handlers.NewSnapshotsHandler(snapshotSvc, broadcast),
		StreamHandler:     handlers.NewStreamHandler(broadcast, workspaceSvc, cfg.StreamHeartbeat),
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
	})

	// Create HTTP server. Streams clear their own write deadline.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopSweep()
	// Shutdown waits for active requests, so end the streams first.
	broadcast.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
