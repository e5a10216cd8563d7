// Package graph holds the in-memory workspace graph shared by the autosave,
// history and snapshot components.
package graph

import (
	"encoding/json"
	"sort"

	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/pkg/utils"
	"gorm.io/datatypes"
)

// Graph is the full editable state of a workspace.
type Graph struct {
	Blocks      []models.Block      `json:"blocks"`
	Connections []models.Connection `json:"connections"`
	Viewport    models.Viewport     `json:"viewport"`
}

// Clone returns a deep copy of g. Mutating the copy never affects g.
func (g Graph) Clone() Graph {
	out := Graph{Viewport: g.Viewport}
	if g.Blocks != nil {
		out.Blocks = make([]models.Block, len(g.Blocks))
		for i, b := range g.Blocks {
			out.Blocks[i] = CloneBlock(b)
		}
	}
	if g.Connections != nil {
		out.Connections = make([]models.Connection, len(g.Connections))
		for i, c := range g.Connections {
			out.Connections[i] = CloneConnection(c)
		}
	}
	return out
}

func CloneBlock(b models.Block) models.Block {
	b.Subtitle = cloneString(b.Subtitle)
	b.Content = cloneString(b.Content)
	b.ExternalURL = cloneString(b.ExternalURL)
	b.ParentID = cloneString(b.ParentID)
	if b.Tags != nil {
		b.Tags = append(datatypes.JSONSlice[string]{}, b.Tags...)
	}
	return b
}

func CloneConnection(c models.Connection) models.Connection {
	c.Label = cloneString(c.Label)
	if c.Style != nil {
		c.Style = append(datatypes.JSON{}, c.Style...)
	}
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// BlockByID returns the block with id and whether it exists.
func (g Graph) BlockByID(id string) (models.Block, bool) {
	for _, b := range g.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return models.Block{}, false
}

// WithWorkspace stamps workspaceID on every block and connection.
func (g Graph) WithWorkspace(workspaceID string) Graph {
	out := g.Clone()
	for i := range out.Blocks {
		out.Blocks[i].WorkspaceID = workspaceID
	}
	for i := range out.Connections {
		out.Connections[i].WorkspaceID = workspaceID
	}
	return out
}

// fingerprintBlock and fingerprintConnection leave out bookkeeping
// timestamps: two graphs that differ only in CreatedAt/UpdatedAt are equal.
type fingerprintBlock struct {
	ID          string             `json:"id"`
	Type        models.BlockType   `json:"type"`
	Company     models.Company     `json:"company"`
	Status      models.BlockStatus `json:"status"`
	Title       string             `json:"title"`
	Subtitle    *string            `json:"subtitle"`
	Content     *string            `json:"content"`
	Tags        []string           `json:"tags"`
	Position    models.Position    `json:"position"`
	Size        models.Size        `json:"size"`
	ExternalURL *string            `json:"external_url"`
	ParentID    *string            `json:"parent_id"`
}

type fingerprintConnection struct {
	ID       string                  `json:"id"`
	SourceID string                  `json:"source_id"`
	TargetID string                  `json:"target_id"`
	Type     models.RelationshipType `json:"type"`
	Label    *string                 `json:"label"`
	Animated bool                    `json:"animated"`
	Style    json.RawMessage         `json:"style"`
}

type fingerprintGraph struct {
	Blocks      []fingerprintBlock      `json:"blocks"`
	Connections []fingerprintConnection `json:"connections"`
	Viewport    *models.Viewport        `json:"viewport,omitempty"`
}

// Fingerprint is a structural hash of blocks, connections and viewport.
// Entity order does not matter.
func (g Graph) Fingerprint() string {
	return fingerprint(g, true)
}

// ContentFingerprint ignores the viewport; panning the canvas is not an edit
// worth an undo entry.
func (g Graph) ContentFingerprint() string {
	return fingerprint(g, false)
}

func fingerprint(g Graph, withViewport bool) string {
	fg := fingerprintGraph{
		Blocks:      make([]fingerprintBlock, 0, len(g.Blocks)),
		Connections: make([]fingerprintConnection, 0, len(g.Connections)),
	}
	for _, b := range g.Blocks {
		tags := []string(b.Tags)
		if tags == nil {
			tags = []string{}
		}
		fg.Blocks = append(fg.Blocks, fingerprintBlock{
			ID: b.ID, Type: b.Type, Company: b.Company, Status: b.Status,
			Title: b.Title, Subtitle: b.Subtitle, Content: b.Content, Tags: tags,
			Position: b.Position, Size: b.Size, ExternalURL: b.ExternalURL, ParentID: b.ParentID,
		})
	}
	for _, c := range g.Connections {
		var style json.RawMessage
		switch {
		case len(c.Style) == 0:
		case json.Valid(c.Style):
			style = json.RawMessage(c.Style)
		default:
			style, _ = json.Marshal(string(c.Style))
		}
		fg.Connections = append(fg.Connections, fingerprintConnection{
			ID: c.ID, SourceID: c.SourceID, TargetID: c.TargetID, Type: c.Type,
			Label: c.Label, Animated: c.Animated, Style: style,
		})
	}
	sort.Slice(fg.Blocks, func(i, j int) bool { return fg.Blocks[i].ID < fg.Blocks[j].ID })
	sort.Slice(fg.Connections, func(i, j int) bool { return fg.Connections[i].ID < fg.Connections[j].ID })
	if withViewport {
		vp := g.Viewport
		fg.Viewport = &vp
	}

	b, _ := json.Marshal(fg)
	return utils.HexSHA256(b)
}
