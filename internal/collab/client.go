// Package collab is the per-session counterpart of the broadcast hub: it
// holds one server-push stream for a workspace, tracks peer presence and
// cursors, and publishes this user's events.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind names a stream handlers can subscribe to.
type EventKind string

const (
	EventPresence EventKind = "presence"
	EventCursors  EventKind = "cursors"
	EventUpdate   EventKind = "update"
)

var ErrNotConnected = errors.New("collab: not connected")

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the ephemeral state of one connected user.
type Presence struct {
	hub.Identity
	Cursor        *Cursor   `json:"cursor,omitempty"`
	ActiveBlockID *string   `json:"activeBlockId,omitempty"`
	LastSeen      time.Time `json:"lastSeen"`
}

// Update payload kinds the client interprets itself.
const (
	KindCursor      = "cursor"
	KindActiveBlock = "active_block"
)

type presenceUpdate struct {
	Kind          string   `json:"kind"`
	X             *float64 `json:"x,omitempty"`
	Y             *float64 `json:"y,omitempty"`
	ActiveBlockID *string  `json:"activeBlockId,omitempty"`
}

type Option func(*Client)

// WithUserID pins the user id instead of generating one.
func WithUserID(id string) Option { return func(c *Client) { c.userID = id } }

// WithHTTPClient replaces the client used for streams and requests. It must
// not set a Timeout, which would cut the stream.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// Client is not safe to Connect concurrently with itself; every other method
// may be called from any goroutine.
type Client struct {
	baseURL     string
	workspaceID string
	userID      string
	http        *http.Client

	sendMu sync.Mutex // keeps this user's outbound events in order

	mu       sync.Mutex
	self     hub.Identity
	peers    map[string]*Presence
	handlers map[EventKind]map[int]func(any)
	nextID   int
	stream   *stream
	err      error
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func New(baseURL, workspaceID string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		workspaceID: workspaceID,
		userID:      uuid.NewString(),
		http:        &http.Client{},
		handlers:    map[EventKind]map[int]func(any){},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) UserID() string      { return c.userID }
func (c *Client) WorkspaceID() string { return c.workspaceID }

// Self returns the identity captured from the connected event.
func (c *Client) Self() hub.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Err reports why the last stream ended; nil while connected or after a
// clean Disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) workspaceURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/workspaces/%s%s", c.baseURL, url.PathEscape(c.workspaceID), suffix)
}

// Connect opens the stream and blocks until the server's connected event
// arrives. Presence is rebuilt from scratch on every call. A stream that
// fails later is not retried; call Connect again.
func (c *Client) Connect(ctx context.Context) error {
	c.Disconnect()

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet,
		c.workspaceURL("/stream")+"?user_id="+url.QueryEscape(c.userID), nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The dial honors ctx; once connected the stream lives until Disconnect.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := c.http.Do(req)
	if err != nil {
		stop()
		cancel()
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		stop()
		cancel()
		_ = resp.Body.Close()
		return fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	frames := newFrameReader(resp.Body)
	first, err := frames.next()
	stop()
	if err != nil {
		cancel()
		_ = resp.Body.Close()
		return fmt.Errorf("read connected event: %w", err)
	}
	if err := c.handleConnected(first); err != nil {
		cancel()
		_ = resp.Body.Close()
		return err
	}

	s := &stream{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.stream = s
	c.err = nil
	c.mu.Unlock()

	go c.read(s, resp.Body, frames)
	c.emitPresence()
	logger.L().Info("collab connected", zap.String("workspace_id", c.workspaceID), zap.String("user_id", c.userID))
	return nil
}

func (c *Client) handleConnected(frame []byte) error {
	var msg hub.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("decode connected event: %w", err)
	}
	if msg.Type != hub.TypeConnected {
		return fmt.Errorf("expected connected event, got %q", msg.Type)
	}
	var p hub.ConnectedPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("decode connected payload: %w", err)
	}
	now := time.Now()
	c.mu.Lock()
	c.self = p.Self
	c.peers = map[string]*Presence{p.Self.UserID: {Identity: p.Self, LastSeen: now}}
	for _, id := range p.Peers {
		c.peers[id.UserID] = &Presence{Identity: id, LastSeen: now}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) read(s *stream, body io.ReadCloser, frames *frameReader) {
	defer close(s.done)
	defer body.Close()
	for {
		frame, err := frames.next()
		if err != nil {
			c.mu.Lock()
			if c.stream == s {
				c.stream = nil
				if !errors.Is(err, context.Canceled) {
					c.err = err
				}
			}
			c.mu.Unlock()
			logger.L().Debug("collab stream ended", zap.String("workspace_id", c.workspaceID), zap.Error(err))
			return
		}
		var msg hub.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			logger.L().Warn("collab bad frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg hub.Message) {
	switch msg.Type {
	case hub.TypeJoin:
		var id hub.Identity
		if err := json.Unmarshal(msg.Payload, &id); err != nil || id.UserID == "" {
			id = hub.IdentityFor(msg.UserID)
		}
		c.mu.Lock()
		c.peers[msg.UserID] = &Presence{Identity: id, LastSeen: time.UnixMilli(msg.Timestamp)}
		c.mu.Unlock()
		c.emitPresence()
	case hub.TypeLeave:
		c.mu.Lock()
		_, had := c.peers[msg.UserID]
		delete(c.peers, msg.UserID)
		c.mu.Unlock()
		if had {
			c.emitPresence()
			c.emitCursors()
		}
	case hub.TypeUpdate:
		var pu presenceUpdate
		_ = json.Unmarshal(msg.Payload, &pu)
		switch pu.Kind {
		case KindCursor:
			c.touch(msg, func(p *Presence) {
				if pu.X != nil && pu.Y != nil {
					p.Cursor = &Cursor{X: *pu.X, Y: *pu.Y}
				} else {
					p.Cursor = nil
				}
			})
			c.emitCursors()
		case KindActiveBlock:
			c.touch(msg, func(p *Presence) { p.ActiveBlockID = pu.ActiveBlockID })
			c.emitPresence()
		default:
			c.emit(EventUpdate, msg)
		}
	}
}

func (c *Client) touch(msg hub.Message, apply func(*Presence)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[msg.UserID]
	if !ok {
		p = &Presence{Identity: hub.IdentityFor(msg.UserID)}
		c.peers[msg.UserID] = p
	}
	apply(p)
	p.LastSeen = time.UnixMilli(msg.Timestamp)
}

// Presence returns connected users, self included, ordered by user id.
func (c *Client) Presence() []Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Presence, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Cursors returns the last known cursor of every peer that has one.
func (c *Client) Cursors() map[string]Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]Cursor{}
	for uid, p := range c.peers {
		if p.Cursor != nil && uid != c.self.UserID {
			out[uid] = *p.Cursor
		}
	}
	return out
}

// On registers handler for kind and returns an idempotent unsubscribe.
// Presence handlers receive []Presence, cursor handlers map[string]Cursor and
// update handlers hub.Message. Handlers run on the stream goroutine.
func (c *Client) On(kind EventKind, handler func(any)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.handlers[kind] == nil {
		c.handlers[kind] = map[int]func(any){}
	}
	c.handlers[kind][id] = handler
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers[kind], id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) emit(kind EventKind, v any) {
	c.mu.Lock()
	hs := make([]func(any), 0, len(c.handlers[kind]))
	for _, h := range c.handlers[kind] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(v)
	}
}

func (c *Client) emitPresence() { c.emit(EventPresence, c.Presence()) }
func (c *Client) emitCursors()  { c.emit(EventCursors, c.Cursors()) }

// UpdateCursor replaces this user's cursor for every peer. Throttling is up
// to the caller. It fails with ErrNotConnected while no stream is open.
func (c *Client) UpdateCursor(ctx context.Context, x, y float64) error {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if p, ok := c.peers[c.self.UserID]; ok {
		p.Cursor = &Cursor{X: x, Y: y}
	}
	c.mu.Unlock()
	return c.BroadcastUpdate(ctx, presenceUpdate{Kind: KindCursor, X: &x, Y: &y})
}

// UpdateActiveBlock replaces the block this user is focused on; nil clears it.
func (c *Client) UpdateActiveBlock(ctx context.Context, blockID *string) error {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if p, ok := c.peers[c.self.UserID]; ok {
		p.ActiveBlockID = blockID
	}
	c.mu.Unlock()
	return c.BroadcastUpdate(ctx, presenceUpdate{Kind: KindActiveBlock, ActiveBlockID: blockID})
}

// BroadcastUpdate publishes payload to every other user of the workspace.
// The hub never echoes it back to this client.
func (c *Client) BroadcastUpdate(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(types.BroadcastRequest{UserID: c.userID, Payload: raw})
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.do(ctx, http.MethodPost, "/broadcast", body, nil)
}

func (c *Client) do(ctx context.Context, method, suffix string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.workspaceURL(suffix), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Lets the server leave this user out when it fans the change out.
	req.Header.Set(types.UserIDHeader, c.userID)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env types.APIResponse
	if out != nil {
		env.Data = out
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s %s: decode response: %w", method, suffix, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s %s: %d %s: %s", method, suffix, resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, suffix, resp.StatusCode)
	}
	return nil
}

// Disconnect closes the stream; the server unregisters this user and tells
// the peers. Safe to call any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancel()
		<-s.done
		logger.L().Info("collab disconnected", zap.String("workspace_id", c.workspaceID), zap.String("user_id", c.userID))
	})
}

// Connected reports whether a stream is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}
