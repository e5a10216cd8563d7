package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamHandler serves live workspace subscriptions over SSE and websockets
// and relays user events through the hub.
type StreamHandler struct {
	hub        *hub.Hub
	workspaces services.WorkspaceService
	heartbeat  time.Duration
	upgrader   websocket.Upgrader
}

func NewStreamHandler(h *hub.Hub, workspaces services.WorkspaceService, heartbeat time.Duration) *StreamHandler {
	return &StreamHandler{
		hub:        h,
		workspaces: workspaces,
		heartbeat:  heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// subscriber resolves who is subscribing. Anonymous callers get a fresh id,
// which the connected event hands back to them.
func subscriber(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// attach queues the connected event, registers the sink and announces the
// new user to everyone else. The connected event is always the first frame.
func (h *StreamHandler) attach(workspaceID, userID string, sink *hub.QueueSink) error {
	self := hub.IdentityFor(userID)
	connected, err := hub.NewMessage(hub.TypeConnected, workspaceID, userID, hub.ConnectedPayload{
		Self:  self,
		Peers: h.peers(workspaceID, userID),
	})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(connected)
	if err != nil {
		return err
	}
	if err := sink.Send(raw); err != nil {
		return err
	}
	h.hub.Register(workspaceID, userID, sink)
	publish(h.hub, hub.TypeJoin, workspaceID, userID, self)
	logger.L().Info("subscriber joined", zap.String("workspace_id", workspaceID), zap.String("user_id", userID))
	return nil
}

// detach removes sink and tells the peers, unless the user already
// reconnected on another stream.
func (h *StreamHandler) detach(workspaceID, userID string, sink *hub.QueueSink) {
	if !h.hub.UnregisterSink(workspaceID, userID, sink) {
		return
	}
	publish(h.hub, hub.TypeLeave, workspaceID, userID, nil)
	logger.L().Info("subscriber left", zap.String("workspace_id", workspaceID), zap.String("user_id", userID))
}

func (h *StreamHandler) peers(workspaceID, exclude string) []hub.Identity {
	members := h.hub.Members(workspaceID)
	sort.Strings(members)
	out := make([]hub.Identity, 0, len(members))
	for _, uid := range members {
		if uid != exclude {
			out = append(out, hub.IdentityFor(uid))
		}
	}
	return out
}

// SSE opens a server-sent event stream for the workspace.
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.workspaces.GetWorkspace(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	userID := subscriber(r)
	sink := hub.NewQueueSink(hub.DefaultSinkBuffer)
	if err := hub.PrepareSSE(w); err != nil {
		writeErrorStr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.attach(id, userID, sink); err != nil {
		logger.L().Error("attach subscriber failed", zap.String("workspace_id", id), zap.Error(err))
		return
	}
	defer h.detach(id, userID, sink)

	if err := hub.ServeSSE(r.Context(), w, sink, h.heartbeat); err != nil {
		logger.L().Debug("sse stream ended", zap.String("workspace_id", id), zap.String("user_id", userID), zap.Error(err))
	}
}

// WS is the websocket flavor of SSE. Frames carry the same JSON messages.
func (h *StreamHandler) WS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.workspaces.GetWorkspace(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	userID := subscriber(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		logger.L().Warn("websocket upgrade failed", zap.String("workspace_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	sink := hub.NewQueueSink(hub.DefaultSinkBuffer)
	if err := h.attach(id, userID, sink); err != nil {
		logger.L().Error("attach subscriber failed", zap.String("workspace_id", id), zap.Error(err))
		return
	}
	defer h.detach(id, userID, sink)

	if err := hub.ServeWS(r.Context(), conn, sink); err != nil {
		logger.L().Debug("websocket stream ended", zap.String("workspace_id", id), zap.String("user_id", userID), zap.Error(err))
	}
}

// Broadcast relays one user's event to the other subscribers.
func (h *StreamHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req types.BroadcastRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := hub.NewMessage(hub.TypeUpdate, chi.URLParam(r, "id"), req.UserID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	n := h.hub.Publish(msg, req.UserID)
	writeData(w, http.StatusOK, map[string]int{"delivered": n})
}

// Presence lists the identities currently subscribed to the workspace.
func (h *StreamHandler) Presence(w http.ResponseWriter, r *http.Request) {
	ids := h.peers(chi.URLParam(r, "id"), "")
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: ids, Meta: &types.Meta{Total: int64(len(ids))}})
}
