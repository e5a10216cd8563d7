package hub

import "github.com/canvas-studio/engine/internal/graph"

// Update kinds that carry a whole graph. Sessions publish graph_edited;
// the server publishes the others.
const (
	KindGraphEdited      = "graph_edited"
	KindGraphSaved       = "graph_saved"
	KindSnapshotRestored = "snapshot_restored"
)

// GraphUpdate tells peers the graph of the workspace was replaced.
type GraphUpdate struct {
	Kind       string      `json:"kind"`
	SnapshotID string      `json:"snapshotId,omitempty"`
	Graph      graph.Graph `json:"graph"`
}
