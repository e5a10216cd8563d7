package handlers

import (
	"net/http"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/internal/snapshots"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/go-chi/chi/v5"
)

type SnapshotsHandler struct {
	svc services.SnapshotService
	hub *hub.Hub
}

func NewSnapshotsHandler(svc services.SnapshotService, h *hub.Hub) *SnapshotsHandler {
	return &SnapshotsHandler{svc: svc, hub: h}
}

func (h *SnapshotsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSnapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *SnapshotsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.SnapshotCreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.svc.CreateSnapshot(r.Context(), chi.URLParam(r, "id"), &services.CreateSnapshotInput{
		Label:       req.Label,
		Description: req.Description,
		Trigger:     snapshots.TriggerManual,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, snap)
}

func (h *SnapshotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSnapshot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

// Compare diffs snapshots a and b given as query parameters.
func (h *SnapshotsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		writeErrorStr(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}
	cmp, err := h.svc.CompareSnapshots(r.Context(), chi.URLParam(r, "id"), a, b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cmp)
}

// Restore replaces the stored graph with a snapshot's and pushes the result
// to the workspace's subscribers.
func (h *SnapshotsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, sid := chi.URLParam(r, "id"), chi.URLParam(r, "sid")
	res, err := h.svc.RestoreSnapshot(r.Context(), id, sid)
	if err != nil {
		writeError(w, err)
		return
	}
	publish(h.hub, hub.TypeUpdate, id, actingUser(r), hub.GraphUpdate{
		Kind:       hub.KindSnapshotRestored,
		SnapshotID: sid,
		Graph:      res.Graph,
	})
	writeData(w, http.StatusOK, res)
}

// Delete refuses to remove the last remaining snapshot with 409.
func (h *SnapshotsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.DeleteSnapshot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, appErr.New(appErr.CodeConflict, "cannot delete the only snapshot of a workspace"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
