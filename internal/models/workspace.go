package models

import "time"

// Viewport is the canvas camera persisted with a workspace.
type Viewport struct {
	X    float64 `gorm:"not null;default:0" json:"x"`
	Y    float64 `gorm:"not null;default:0" json:"y"`
	Zoom float64 `gorm:"not null;default:1" json:"zoom" validate:"gte=0.1,lte=4"`
}

// DefaultViewport is the camera of a freshly created workspace.
func DefaultViewport() Viewport { return Viewport{Zoom: 1} }

// Workspace owns a graph of blocks and connections.
type Workspace struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name" validate:"required"`
	Description string    `gorm:"type:text" json:"description"`
	Viewport    Viewport  `gorm:"embedded;embeddedPrefix:viewport_" json:"viewport"`
	OwnerID     string    `gorm:"type:varchar(64);index" json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
