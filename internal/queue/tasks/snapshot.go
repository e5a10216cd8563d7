package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canvas-studio/engine/internal/services"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SnapshotTaskHandler takes scheduled snapshots of stored workspace graphs.
type SnapshotTaskHandler struct {
	snapshots services.SnapshotService
}

func NewSnapshotTaskHandler(snapshots services.SnapshotService) *SnapshotTaskHandler {
	return &SnapshotTaskHandler{snapshots: snapshots}
}

// Register binds the handler on mux.
func (h *SnapshotTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TypeSnapshotCreate, h.HandleSnapshot)
}

func (h *SnapshotTaskHandler) HandleSnapshot(ctx context.Context, t *asynq.Task) error {
	var p services.SnapshotPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid snapshot task payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.WorkspaceID == "" || p.Label == "" {
		logger.L().Error("incomplete snapshot task payload", zap.String("workspace_id", p.WorkspaceID))
		return fmt.Errorf("workspace id and label are required: %w", asynq.SkipRetry)
	}

	logger.L().Info("handling snapshot task", zap.String("workspace_id", p.WorkspaceID), zap.String("trigger", string(p.Trigger)))

	snap, err := h.snapshots.CreateSnapshot(ctx, p.WorkspaceID, &services.CreateSnapshotInput{Label: p.Label, Trigger: p.Trigger})
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			// Workspace deleted after the task was queued.
			logger.L().Warn("snapshot target gone", zap.String("workspace_id", p.WorkspaceID))
			return nil
		}
		logger.L().Error("create snapshot failed", zap.String("workspace_id", p.WorkspaceID), zap.Error(err))
		return err
	}

	logger.L().Info("snapshot task completed", zap.String("workspace_id", p.WorkspaceID), zap.String("snapshot_id", snap.ID))
	return nil
}
