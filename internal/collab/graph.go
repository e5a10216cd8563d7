package collab

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/canvas-studio/engine/internal/graph"
)

// SaveGraph persists g as the workspace's full state. It satisfies
// autosave.Saver so a remote session can autosave through the API.
func (c *Client) SaveGraph(ctx context.Context, g graph.Graph) error {
	body, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/graph", body, nil)
}

// LoadGraph fetches the persisted workspace graph.
func (c *Client) LoadGraph(ctx context.Context) (graph.Graph, error) {
	var g graph.Graph
	if err := c.do(ctx, http.MethodGet, "/graph", nil, &g); err != nil {
		return graph.Graph{}, err
	}
	return g, nil
}
