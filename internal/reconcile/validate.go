package reconcile

import (
	"context"

	"github.com/canvas-studio/engine/internal/models"
	appErr "github.com/canvas-studio/engine/pkg/errors"
)

// ValidateBlocks checks enumerations and that every parent reference points
// at a block of the same desired set.
func ValidateBlocks(_ context.Context, _ string, desired []models.Block) error {
	ids := make(map[string]struct{}, len(desired))
	for _, b := range desired {
		ids[b.ID] = struct{}{}
	}
	for _, b := range desired {
		if !b.Type.Valid() {
			return appErr.Newf(appErr.CodeInvalid, "block %q has unknown type %q", b.ID, b.Type)
		}
		if !b.Company.Valid() {
			return appErr.Newf(appErr.CodeInvalid, "block %q has unknown company %q", b.ID, b.Company)
		}
		if !b.Status.Valid() {
			return appErr.Newf(appErr.CodeInvalid, "block %q has unknown status %q", b.ID, b.Status)
		}
		if b.ParentID == nil {
			continue
		}
		if *b.ParentID == b.ID {
			return appErr.Newf(appErr.CodeInvalid, "block %q is its own parent", b.ID)
		}
		if _, ok := ids[*b.ParentID]; !ok {
			return appErr.Newf(appErr.CodeInvalid, "block %q parent %q is outside the workspace", b.ID, *b.ParentID)
		}
	}
	return nil
}

// BlockIDSource lists the block ids a connection may reference.
type BlockIDSource func(ctx context.Context, workspaceID string) ([]string, error)

// ConnectionValidator checks endpoints against the workspace's blocks and
// rejects duplicate (source, target, type) triples as conflicts.
func ConnectionValidator(blocks BlockIDSource) Validator[models.Connection] {
	return func(ctx context.Context, workspaceID string, desired []models.Connection) error {
		ids, err := blocks(ctx, workspaceID)
		if err != nil {
			return appErr.Wrap(err, appErr.CodeUnavailable, "list workspace blocks failed")
		}
		return ValidateConnections(ids, desired)
	}
}

// ValidateConnections is the static part of ConnectionValidator.
func ValidateConnections(blockIDs []string, desired []models.Connection) error {
	known := make(map[string]struct{}, len(blockIDs))
	for _, id := range blockIDs {
		known[id] = struct{}{}
	}
	triples := make(map[models.Triple]string, len(desired))
	for _, c := range desired {
		if !c.Type.Valid() {
			return appErr.Newf(appErr.CodeInvalid, "connection %q has unknown type %q", c.ID, c.Type)
		}
		if _, ok := known[c.SourceID]; !ok {
			return appErr.Newf(appErr.CodeInvalid, "connection %q source %q is outside the workspace", c.ID, c.SourceID)
		}
		if _, ok := known[c.TargetID]; !ok {
			return appErr.Newf(appErr.CodeInvalid, "connection %q target %q is outside the workspace", c.ID, c.TargetID)
		}
		if other, dup := triples[c.Triple()]; dup {
			return appErr.Newf(appErr.CodeConflict, "connection %q duplicates %q", c.ID, other).
				WithMeta("source_id", c.SourceID).
				WithMeta("target_id", c.TargetID).
				WithMeta("type", string(c.Type))
		}
		triples[c.Triple()] = c.ID
	}
	return nil
}

// StaticBlockIDs serves a fixed block id list, e.g. the desired blocks of a
// graph being saved in the same request.
func StaticBlockIDs(blocks []models.Block) BlockIDSource {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return func(context.Context, string) ([]string, error) { return ids, nil }
}
