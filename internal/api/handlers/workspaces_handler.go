package handlers

import (
	"net/http"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
)

type WorkspacesHandler struct {
	svc services.WorkspaceService
	hub *hub.Hub
}

// NewWorkspacesHandler wires the workspace endpoints. h may be nil, in which
// case saved graphs are not announced to live subscribers.
func NewWorkspacesHandler(svc services.WorkspaceService, h *hub.Hub) *WorkspacesHandler {
	return &WorkspacesHandler{svc: svc, hub: h}
}

func (h *WorkspacesHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListWorkspaces(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *WorkspacesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.WorkspaceCreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ws, err := h.svc.CreateWorkspace(r.Context(), &services.CreateWorkspaceInput{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, ws)
}

func (h *WorkspacesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.GetWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, ws)
}

func (h *WorkspacesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkspacesHandler) LoadGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.LoadGraph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, g)
}

// SaveGraph replaces the stored graph with the request body. When anything
// changed, the other subscribers of the workspace get the new graph.
func (h *WorkspacesHandler) SaveGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var g graph.Graph
	if err := decodeJSON(w, r, &g); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.SyncGraph(r.Context(), id, g)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Changed {
		stored, err := h.svc.LoadGraph(r.Context(), id)
		if err == nil {
			publish(h.hub, hub.TypeUpdate, id, actingUser(r), hub.GraphUpdate{Kind: hub.KindGraphSaved, Graph: stored})
		}
	}
	writeData(w, http.StatusOK, res)
}

func (h *WorkspacesHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req types.ConnectionCreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.svc.CreateConnection(r.Context(), chi.URLParam(r, "id"), &services.CreateConnectionInput{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Type:     req.Type,
		Label:    req.Label,
		Animated: req.Animated,
		Style:    datatypes.JSON(req.Style),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}
