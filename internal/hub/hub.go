// Package hub is the in-process broadcast registry for live workspace
// subscribers. It fans presence, cursor and update events out to every
// connected user of a workspace except the sender.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/canvas-studio/engine/internal/metrics"
	"github.com/canvas-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

type MessageType string

const (
	TypeConnected MessageType = "connected"
	TypeJoin      MessageType = "join"
	TypeLeave     MessageType = "leave"
	TypeUpdate    MessageType = "update"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Type        MessageType     `json:"type"`
	UserID      string          `json:"userId"`
	WorkspaceID string          `json:"workspaceId"`
	Timestamp   int64           `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewMessage stamps the current time and encodes payload.
func NewMessage(typ MessageType, workspaceID, userID string, payload any) (Message, error) {
	msg := Message{Type: typ, UserID: userID, WorkspaceID: workspaceID, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		switch p := payload.(type) {
		case json.RawMessage:
			msg.Payload = p
		default:
			b, err := json.Marshal(payload)
			if err != nil {
				return Message{}, err
			}
			msg.Payload = b
		}
	}
	return msg, nil
}

// Sink is one subscriber's output channel. Send must deliver messages in call
// order; an error means the subscriber is gone.
type Sink interface {
	Send(msg []byte) error
	Close() error
}

// Hub owns the workspace -> user -> sink registry.
type Hub struct {
	mu         sync.Mutex
	workspaces map[string]map[string]Sink
}

func New() *Hub {
	return &Hub{workspaces: map[string]map[string]Sink{}}
}

// Register installs sink for userID, replacing (and closing) any previous
// sink of the same user so a reconnect is idempotent.
func (h *Hub) Register(workspaceID, userID string, sink Sink) {
	h.mu.Lock()
	subs, ok := h.workspaces[workspaceID]
	if !ok {
		subs = map[string]Sink{}
		h.workspaces[workspaceID] = subs
	}
	prev, replaced := subs[userID]
	subs[userID] = sink
	h.mu.Unlock()

	if replaced && prev != sink {
		_ = prev.Close()
	} else if !replaced {
		metrics.HubSubscribers.Inc()
	}
	logger.L().Debug("hub register", zap.String("workspace_id", workspaceID), zap.String("user_id", userID), zap.Bool("replaced", replaced))
}

// Unregister removes userID's sink whatever it is.
func (h *Hub) Unregister(workspaceID, userID string) {
	h.remove(workspaceID, userID, nil)
}

// UnregisterSink removes userID only while sink is still the registered one.
// A stream that closes after its user reconnected must not evict the new sink.
// It reports whether anything was removed.
func (h *Hub) UnregisterSink(workspaceID, userID string, sink Sink) bool {
	return h.remove(workspaceID, userID, sink)
}

func (h *Hub) remove(workspaceID, userID string, expect Sink) bool {
	h.mu.Lock()
	subs, ok := h.workspaces[workspaceID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	cur, ok := subs[userID]
	if !ok || (expect != nil && cur != expect) {
		h.mu.Unlock()
		return false
	}
	delete(subs, userID)
	if len(subs) == 0 {
		delete(h.workspaces, workspaceID)
	}
	h.mu.Unlock()

	metrics.HubSubscribers.Dec()
	_ = cur.Close()
	logger.L().Debug("hub unregister", zap.String("workspace_id", workspaceID), zap.String("user_id", userID))
	return true
}

// Publish delivers msg to every sink of the workspace except excludeUserID.
// Delivery is best effort: a sink that fails is dropped and fan-out
// continues. It returns the number of sinks that accepted the message.
func (h *Hub) Publish(msg Message, excludeUserID string) int {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.L().Error("hub encode message failed", zap.Error(err))
		return 0
	}

	type target struct {
		userID string
		sink   Sink
	}
	h.mu.Lock()
	subs := h.workspaces[msg.WorkspaceID]
	targets := make([]target, 0, len(subs))
	for uid, s := range subs {
		if uid == excludeUserID {
			continue
		}
		targets = append(targets, target{userID: uid, sink: s})
	}
	h.mu.Unlock()

	metrics.HubMessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	delivered := 0
	for _, t := range targets {
		if err := t.sink.Send(raw); err != nil {
			if h.remove(msg.WorkspaceID, t.userID, t.sink) {
				metrics.HubSinksDropped.Inc()
			}
			logger.L().Warn("dropping dead subscriber",
				zap.String("workspace_id", msg.WorkspaceID),
				zap.String("user_id", t.userID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Members lists the user ids subscribed to a workspace.
func (h *Hub) Members(workspaceID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.workspaces[workspaceID]))
	for uid := range h.workspaces[workspaceID] {
		out = append(out, uid)
	}
	return out
}

// Workspaces reports how many workspaces have at least one subscriber.
func (h *Hub) Workspaces() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workspaces)
}

// Close drops every subscriber. The hub stays usable afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.workspaces
	h.workspaces = map[string]map[string]Sink{}
	h.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			metrics.HubSubscribers.Dec()
			_ = s.Close()
		}
	}
}
