package models

import (
	"time"

	"gorm.io/datatypes"
)

// RelationshipType is the meaning of a directed connection.
type RelationshipType string

const (
	RelSolves    RelationshipType = "solves"
	RelSupports  RelationshipType = "supports"
	RelTargets   RelationshipType = "targets"
	RelDelivers  RelationshipType = "delivers"
	RelRelatesTo RelationshipType = "relates_to"
	RelDependsOn RelationshipType = "depends_on"
)

func (r RelationshipType) Valid() bool {
	switch r {
	case RelSolves, RelSupports, RelTargets, RelDelivers, RelRelatesTo, RelDependsOn:
		return true
	}
	return false
}

// Connection is a directed, typed edge between two blocks of one workspace.
// (workspace, source, target, type) is unique.
type Connection struct {
	ID          string           `gorm:"type:varchar(64);primaryKey" json:"id"`
	WorkspaceID string           `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_connection_triple,priority:1" json:"workspace_id"`
	SourceID    string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_connection_triple,priority:2" json:"source_id"`
	TargetID    string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_connection_triple,priority:3" json:"target_id"`
	Type        RelationshipType `gorm:"type:varchar(32);not null;uniqueIndex:idx_connection_triple,priority:4" json:"type"`
	Label       *string          `json:"label,omitempty"`
	Animated    bool             `gorm:"not null;default:false" json:"animated"`
	Style       datatypes.JSON   `json:"style,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (c Connection) EntityID() string          { return c.ID }
func (c Connection) EntityWorkspaceID() string { return c.WorkspaceID }

// Triple is the uniqueness key of a connection within its workspace.
type Triple struct {
	SourceID string
	TargetID string
	Type     RelationshipType
}

func (c Connection) Triple() Triple {
	return Triple{SourceID: c.SourceID, TargetID: c.TargetID, Type: c.Type}
}

// UniqueKey identifies the triple for reconciliation planning.
func (c Connection) UniqueKey() string {
	return c.SourceID + "\x00" + c.TargetID + "\x00" + string(c.Type)
}
