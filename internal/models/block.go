package models

import (
	"time"

	"gorm.io/datatypes"
)

// BlockType is the content role of a block on the canvas.
type BlockType string

const (
	BlockPersona   BlockType = "persona"
	BlockPainPoint BlockType = "pain_point"
	BlockValueProp BlockType = "value_prop"
	BlockFeature   BlockType = "feature"
	BlockMessage   BlockType = "message"
	BlockChannel   BlockType = "channel"
	BlockCampaign  BlockType = "campaign"
	BlockNote      BlockType = "note"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockPersona, BlockPainPoint, BlockValueProp, BlockFeature,
		BlockMessage, BlockChannel, BlockCampaign, BlockNote:
		return true
	}
	return false
}

// Company is the brand a block belongs to.
type Company string

const (
	CompanyCore    Company = "core"
	CompanyLabs    Company = "labs"
	CompanyPartner Company = "partner"
)

func (c Company) Valid() bool {
	switch c {
	case CompanyCore, CompanyLabs, CompanyPartner:
		return true
	}
	return false
}

// BlockStatus is the lifecycle stage of a block.
type BlockStatus string

const (
	StatusDraft     BlockStatus = "draft"
	StatusInReview  BlockStatus = "in_review"
	StatusApproved  BlockStatus = "approved"
	StatusPublished BlockStatus = "published"
	StatusArchived  BlockStatus = "archived"
)

func (s BlockStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusPublished, StatusArchived:
		return true
	}
	return false
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Block is a positioned content node. ParentID, when set, must reference a
// block of the same workspace; callers are responsible for avoiding cycles.
type Block struct {
	ID          string                      `gorm:"type:varchar(64);primaryKey" json:"id"`
	WorkspaceID string                      `gorm:"type:varchar(64);index;not null" json:"workspace_id"`
	Type        BlockType                   `gorm:"type:varchar(32);not null" json:"type"`
	Company     Company                     `gorm:"type:varchar(32);not null" json:"company"`
	Status      BlockStatus                 `gorm:"type:varchar(32);not null;index" json:"status"`
	Title       string                      `gorm:"not null" json:"title"`
	Subtitle    *string                     `json:"subtitle,omitempty"`
	Content     *string                     `gorm:"type:text" json:"content,omitempty"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	Position    Position                    `gorm:"embedded;embeddedPrefix:position_" json:"position"`
	Size        Size                        `gorm:"embedded" json:"size"`
	ExternalURL *string                     `json:"external_url,omitempty"`
	ParentID    *string                     `gorm:"type:varchar(64);index" json:"parent_id,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func (b Block) EntityID() string          { return b.ID }
func (b Block) EntityWorkspaceID() string { return b.WorkspaceID }
