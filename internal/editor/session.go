// Package editor owns the in-memory graph of one user's editing session and
// routes each change to autosave, undo history, the auto-snapshot policy and
// the user's peers.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/canvas-studio/engine/internal/autosave"
	"github.com/canvas-studio/engine/internal/collab"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/history"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/localstore"
	"github.com/canvas-studio/engine/internal/snapshots"
	"github.com/canvas-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("editor: session closed")

// DefaultAutoSnapshotTick is how often a session checks whether its interval
// snapshot fell due while no edits arrived.
const DefaultAutoSnapshotTick = 30 * time.Second

// Broadcaster sends one of this user's events to the other users of the
// workspace. *collab.Client implements it.
type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, payload any) error
}

// UpdateSource delivers peer events. *collab.Client implements it.
type UpdateSource interface {
	On(kind collab.EventKind, handler func(any)) func()
}

// AutoSnapshotFunc is asked to take a snapshot of g.
type AutoSnapshotFunc func(ctx context.Context, reason snapshots.Reason, g graph.Graph)

type Options struct {
	WorkspaceID     string
	HistoryCapacity int
	// Autosave.OnStatus runs while the session is locked and must not call
	// back into the Session.
	Autosave     autosave.Options
	AutoSnapshot snapshots.AutoConfig

	// Saver is required. Local defaults to an in-memory store.
	Saver autosave.Saver
	Local localstore.Store

	Broadcaster Broadcaster
	// OnAutoSnapshot enables the auto-snapshot policy. Without it the
	// session takes no automatic snapshots.
	OnAutoSnapshot   AutoSnapshotFunc
	AutoSnapshotTick time.Duration

	Now func() time.Time
}

// Session is safe for concurrent use. Mutations are applied one at a time in
// call order.
type Session struct {
	workspaceID string
	now         func() time.Time

	history     *history.Manager
	autosave    *autosave.Policy
	auto        *snapshots.AutoPolicy
	broadcaster Broadcaster
	onAuto      AutoSnapshotFunc

	mu     sync.Mutex
	graph  graph.Graph
	closed bool
	stop   chan struct{}
}

// Open starts a session on initial, which is taken to be what the durable
// store already holds.
func Open(initial graph.Graph, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	local := opts.Local
	if local == nil {
		local = localstore.NewMemory()
	}
	s := &Session{
		workspaceID: opts.WorkspaceID,
		now:         now,
		history:     history.NewManager(opts.HistoryCapacity, initial),
		autosave:    autosave.New(opts.WorkspaceID, opts.Saver, local, opts.Autosave),
		auto:        snapshots.NewAutoPolicy(opts.AutoSnapshot, len(initial.Blocks), len(initial.Connections), now()),
		broadcaster: opts.Broadcaster,
		onAuto:      opts.OnAutoSnapshot,
		graph:       initial.Clone(),
	}
	s.autosave.Baseline(initial)
	if s.onAuto != nil {
		tick := opts.AutoSnapshotTick
		if tick <= 0 {
			tick = DefaultAutoSnapshotTick
		}
		s.stop = make(chan struct{})
		go s.watchAutoSnapshot(tick)
	}
	return s
}

func (s *Session) watchAutoSnapshot(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.CheckAutoSnapshot(context.Background())
		}
	}
}

// CheckAutoSnapshot takes the interval snapshot when it fell due without a
// further edit, and reports the reason it did so.
func (s *Session) CheckAutoSnapshot(ctx context.Context) snapshots.Reason {
	s.mu.Lock()
	if s.closed || s.onAuto == nil {
		s.mu.Unlock()
		return snapshots.ReasonNone
	}
	reason := s.auto.Due(s.now())
	g := s.graph.Clone()
	s.mu.Unlock()

	if reason != snapshots.ReasonNone {
		s.onAuto(ctx, reason, g)
	}
	return reason
}

// Graph returns a copy of the current graph.
func (s *Session) Graph() graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Clone()
}

// Apply runs mutate on a copy of the current graph and installs the result.
// An error from mutate leaves the session untouched. It reports whether the
// graph changed.
func (s *Session) Apply(ctx context.Context, description string, mutate func(g *graph.Graph) error) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	next := s.graph.Clone()
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if next.Fingerprint() == s.graph.Fingerprint() {
		s.mu.Unlock()
		return false, nil
	}
	s.install(next, description, history.OriginUser)
	s.mu.Unlock()

	s.afterLocal(ctx, next)
	return true, nil
}

// Undo steps back one user edit. It reports false when there is nothing to
// undo.
func (s *Session) Undo(ctx context.Context) (bool, error) {
	return s.step(ctx, s.history.Undo)
}

func (s *Session) Redo(ctx context.Context) (bool, error) {
	return s.step(ctx, s.history.Redo)
}

func (s *Session) step(ctx context.Context, move func() (history.State, bool)) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	st, ok := move()
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	// The manager already moved its present; this only updates the rest.
	s.install(st.Graph, st.Description, history.OriginHistory)
	g := st.Graph.Clone()
	s.mu.Unlock()

	s.afterLocal(ctx, g)
	return true, nil
}

// ApplyRemote installs a graph received from a peer. It is neither recorded
// in history nor broadcast back, and it is taken as already persisted.
func (s *Session) ApplyRemote(g graph.Graph) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || g.Fingerprint() == s.graph.Fingerprint() {
		return false
	}
	s.install(g, "remote update", history.OriginRemote)
	s.autosave.Baseline(g)
	return true
}

// install must be called with s.mu held.
func (s *Session) install(g graph.Graph, description string, origin history.Origin) {
	s.graph = g.Clone()
	if origin != history.OriginHistory {
		s.history.Record(g, description, origin)
	}
	if origin == history.OriginRemote {
		return
	}
	s.autosave.Observe(g)
	if reason := s.auto.Observe(len(g.Blocks), len(g.Connections), s.now()); reason != snapshots.ReasonNone && s.onAuto != nil {
		go s.onAuto(context.Background(), reason, g.Clone())
	}
}

// afterLocal tells the peers about a change made in this session.
func (s *Session) afterLocal(ctx context.Context, g graph.Graph) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.BroadcastUpdate(ctx, hub.GraphUpdate{Kind: hub.KindGraphEdited, Graph: g}); err != nil {
		logger.L().Warn("broadcast edit failed", zap.String("workspace_id", s.workspaceID), zap.Error(err))
	}
}

// Follow installs graphs announced by peers or by the server until the
// returned function is called.
func (s *Session) Follow(src UpdateSource) func() {
	return src.On(collab.EventUpdate, func(v any) {
		msg, ok := v.(hub.Message)
		if !ok {
			return
		}
		var upd hub.GraphUpdate
		if err := json.Unmarshal(msg.Payload, &upd); err != nil {
			return
		}
		switch upd.Kind {
		case hub.KindGraphEdited, hub.KindGraphSaved, hub.KindSnapshotRestored:
			if s.ApplyRemote(upd.Graph) {
				logger.L().Debug("applied remote graph",
					zap.String("workspace_id", s.workspaceID),
					zap.String("user_id", msg.UserID),
					zap.String("kind", upd.Kind),
				)
			}
		}
	})
}

func (s *Session) CanUndo() bool { return s.history.CanUndo() }
func (s *Session) CanRedo() bool { return s.history.CanRedo() }

func (s *Session) Status() autosave.Status { return s.autosave.Status() }

// SaveNow flushes pending edits without waiting for the debounce.
func (s *Session) SaveNow(ctx context.Context) error { return s.autosave.SaveNow(ctx) }

// Recover pushes an edit left in the local store by an earlier session and
// makes it the current graph. The graph it replaced stays one undo away.
func (s *Session) Recover(ctx context.Context) (bool, error) {
	g, ok, err := s.autosave.Recover(ctx)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true, nil
	}
	s.install(g, "recovered local copy", history.OriginUser)
	s.mu.Unlock()

	s.afterLocal(ctx, g)
	return true, nil
}

// Close flushes unsaved edits. Further mutations fail with ErrClosed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.stop != nil {
		close(s.stop)
	}
	s.mu.Unlock()
	return s.autosave.Close(ctx)
}
