package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeSummary lists entity titles that differ from the previous snapshot.
type ChangeSummary struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Total is the number of entries across all three lists.
func (s ChangeSummary) Total() int {
	return len(s.Added) + len(s.Modified) + len(s.Removed)
}

// VersionSnapshot is a durable, labeled copy of a workspace graph.
type VersionSnapshot struct {
	ID          string                            `gorm:"type:varchar(64);primaryKey" json:"id"`
	WorkspaceID string                            `gorm:"type:varchar(64);not null;index:idx_snapshot_workspace_created,priority:1" json:"workspace_id"`
	Label       string                            `gorm:"not null" json:"label"`
	Description *string                           `gorm:"type:text" json:"description,omitempty"`
	Blocks      datatypes.JSONSlice[Block]        `json:"blocks"`
	Connections datatypes.JSONSlice[Connection]   `json:"connections"`
	Summary     datatypes.JSONType[ChangeSummary] `json:"summary"`
	Auto        bool                              `gorm:"not null;default:false" json:"auto"`
	CreatedAt   time.Time                         `gorm:"index:idx_snapshot_workspace_created,priority:2" json:"created_at"`
}
