package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canvas-studio/engine/internal/snapshots"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeSnapshotCreate is the asynq task type of a scheduled snapshot.
const TypeSnapshotCreate = "snapshot:create"

type SnapshotPayload struct {
	WorkspaceID string            `json:"workspace_id"`
	Label       string            `json:"label"`
	Trigger     snapshots.Trigger `json:"trigger"`
}

// SnapshotScheduler takes a snapshot of a workspace's stored graph, now or
// on a worker.
type SnapshotScheduler interface {
	Schedule(ctx context.Context, p SnapshotPayload) error
}

// NewSnapshotScheduler enqueues asynq tasks when client is set and creates
// the snapshot inline otherwise.
func NewSnapshotScheduler(client *asynq.Client, svc SnapshotService) SnapshotScheduler {
	if client == nil {
		logger.L().Warn("asynq client not configured, snapshots run inline")
		return &inlineScheduler{svc: svc}
	}
	return &asynqScheduler{client: client}
}

type asynqScheduler struct {
	client *asynq.Client
}

func (s *asynqScheduler) Schedule(ctx context.Context, p SnapshotPayload) error {
	task, err := NewSnapshotTask(p)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue snapshot task failed")
	}
	logger.L().Info("enqueued snapshot task", zap.String("workspace_id", p.WorkspaceID), zap.String("task_id", info.ID))
	return nil
}

type inlineScheduler struct {
	svc SnapshotService
}

func (s *inlineScheduler) Schedule(ctx context.Context, p SnapshotPayload) error {
	_, err := s.svc.CreateSnapshot(ctx, p.WorkspaceID, &CreateSnapshotInput{Label: p.Label, Trigger: p.Trigger})
	return err
}

func NewSnapshotTask(p SnapshotPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal snapshot payload failed")
	}
	return asynq.NewTask(TypeSnapshotCreate, b, asynq.MaxRetry(3)), nil
}

// scheduleAuto schedules an automatic snapshot. Failures are logged only;
// they never fail the save that triggered them.
func scheduleAuto(ctx context.Context, scheduler SnapshotScheduler, workspaceID string, reason snapshots.Reason) {
	err := scheduler.Schedule(ctx, SnapshotPayload{
		WorkspaceID: workspaceID,
		Label:       fmt.Sprintf("Auto snapshot %s", time.Now().UTC().Format("2006-01-02 15:04")),
		Trigger:     snapshots.TriggerAuto,
	})
	if err != nil {
		logger.L().Warn("schedule auto snapshot failed",
			zap.String("workspace_id", workspaceID),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
	}
}

// AutoSnapshotSweeper takes the interval snapshots of workspaces that were
// edited and then went quiet, which no save would otherwise trigger. It
// shares its tracker with the WorkspaceService.
type AutoSnapshotSweeper struct {
	auto      *snapshots.AutoTracker
	scheduler SnapshotScheduler
}

func NewAutoSnapshotSweeper(auto *snapshots.AutoTracker, scheduler SnapshotScheduler) *AutoSnapshotSweeper {
	return &AutoSnapshotSweeper{auto: auto, scheduler: scheduler}
}

// Sweep schedules a snapshot for every workspace that is due and returns
// how many it scheduled.
func (s *AutoSnapshotSweeper) Sweep(ctx context.Context) int {
	due := s.auto.Due()
	for _, id := range due {
		scheduleAuto(ctx, s.scheduler, id, snapshots.ReasonInterval)
	}
	if len(due) > 0 {
		logger.L().Info("interval snapshots scheduled", zap.Int("workspaces", len(due)))
	}
	return len(due)
}

// Run sweeps every interval until ctx is done.
func (s *AutoSnapshotSweeper) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}
