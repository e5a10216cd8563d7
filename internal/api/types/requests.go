package types

import (
	"encoding/json"

	"github.com/canvas-studio/engine/internal/models"
)

// UserIDHeader names the acting user on requests that are not streams.
const UserIDHeader = "X-User-ID"

type WorkspaceCreateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	OwnerID     string `json:"owner_id" validate:"omitempty,max=64"`
}

type ConnectionCreateRequest struct {
	SourceID string                  `json:"source_id" validate:"required"`
	TargetID string                  `json:"target_id" validate:"required"`
	Type     models.RelationshipType `json:"type" validate:"required,relationship"`
	Label    *string                 `json:"label"`
	Animated bool                    `json:"animated"`
	Style    json.RawMessage         `json:"style"`
}

type SnapshotCreateRequest struct {
	Label       string  `json:"label" validate:"required,max=200"`
	Description *string `json:"description"`
}

// BroadcastRequest is one user's event for the other subscribers of a
// workspace.
type BroadcastRequest struct {
	UserID  string          `json:"user_id" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}
