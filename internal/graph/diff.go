package graph

import (
	"fmt"

	"github.com/canvas-studio/engine/internal/models"
)

// Diff summarizes what changed from prev to next by entity id. Blocks are
// compared on title, content, subtitle and status; connections on type and
// label. Entries are reported by display title.
func Diff(prev, next Graph) models.ChangeSummary {
	sum := models.ChangeSummary{Added: []string{}, Modified: []string{}, Removed: []string{}}

	prevBlocks := make(map[string]models.Block, len(prev.Blocks))
	for _, b := range prev.Blocks {
		prevBlocks[b.ID] = b
	}
	nextBlocks := make(map[string]struct{}, len(next.Blocks))
	for _, b := range next.Blocks {
		nextBlocks[b.ID] = struct{}{}
		old, ok := prevBlocks[b.ID]
		switch {
		case !ok:
			sum.Added = append(sum.Added, b.Title)
		case blockChanged(old, b):
			sum.Modified = append(sum.Modified, b.Title)
		}
	}
	for _, b := range prev.Blocks {
		if _, ok := nextBlocks[b.ID]; !ok {
			sum.Removed = append(sum.Removed, b.Title)
		}
	}

	prevConns := make(map[string]models.Connection, len(prev.Connections))
	for _, c := range prev.Connections {
		prevConns[c.ID] = c
	}
	nextConns := make(map[string]struct{}, len(next.Connections))
	for _, c := range next.Connections {
		nextConns[c.ID] = struct{}{}
		old, ok := prevConns[c.ID]
		switch {
		case !ok:
			sum.Added = append(sum.Added, ConnectionTitle(next, c))
		case old.Type != c.Type || strVal(old.Label) != strVal(c.Label):
			sum.Modified = append(sum.Modified, ConnectionTitle(next, c))
		}
	}
	for _, c := range prev.Connections {
		if _, ok := nextConns[c.ID]; !ok {
			sum.Removed = append(sum.Removed, ConnectionTitle(prev, c))
		}
	}
	return sum
}

func blockChanged(a, b models.Block) bool {
	return a.Title != b.Title ||
		strVal(a.Content) != strVal(b.Content) ||
		strVal(a.Subtitle) != strVal(b.Subtitle) ||
		a.Status != b.Status
}

// ConnectionTitle is the label of c, or "source → target" using block titles
// from g when the connection is unlabeled.
func ConnectionTitle(g Graph, c models.Connection) string {
	if l := strVal(c.Label); l != "" {
		return l
	}
	src, tgt := c.SourceID, c.TargetID
	if b, ok := g.BlockByID(c.SourceID); ok {
		src = b.Title
	}
	if b, ok := g.BlockByID(c.TargetID); ok {
		tgt = b.Title
	}
	return fmt.Sprintf("%s → %s", src, tgt)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
