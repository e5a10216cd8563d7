package history

import (
	"sync"

	"github.com/canvas-studio/engine/internal/graph"
)

// Origin tags a graph mutation with its cause.
type Origin int

const (
	// OriginUser is a local edit and the only origin that is recorded.
	OriginUser Origin = iota
	// OriginHistory is the result of an undo or redo being applied.
	OriginHistory
	// OriginRemote is a graph installed from a peer or a snapshot restore.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginHistory:
		return "history"
	case OriginRemote:
		return "remote"
	}
	return "unknown"
}

// Manager tracks the present graph and records user edits on a Stack.
type Manager struct {
	mu        sync.Mutex
	stack     *Stack
	present   graph.Graph
	presentFP string
}

func NewManager(capacity int, initial graph.Graph) *Manager {
	return &Manager{
		stack:     NewStack(capacity),
		present:   initial.Clone(),
		presentFP: initial.ContentFingerprint(),
	}
}

// Record observes a mutation that produced next. Only OriginUser mutations
// that change blocks or connections push the previous present onto the undo
// stack; the others just move the present. It reports whether an entry was
// pushed.
func (m *Manager) Record(next graph.Graph, description string, origin Origin) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := next.ContentFingerprint()
	if fp == m.presentFP {
		m.present.Viewport = next.Viewport
		return false
	}
	pushed := false
	if origin == OriginUser {
		pushed = m.stack.Push(m.present, description)
	}
	m.present = next.Clone()
	m.presentFP = fp
	return pushed
}

// Undo returns the graph to install, or false if there is nothing to undo.
// The returned graph keeps the present viewport. The caller applies it with
// OriginHistory.
func (m *Manager) Undo() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stack.Undo(m.present)
	if ok {
		st = m.setPresent(st)
	}
	return st, ok
}

func (m *Manager) Redo() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stack.Redo(m.present)
	if ok {
		st = m.setPresent(st)
	}
	return st, ok
}

func (m *Manager) setPresent(st State) State {
	st.Graph.Viewport = m.present.Viewport
	m.present = st.Graph.Clone()
	m.presentFP = st.fingerprint
	return st
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stack.CanUndo()
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stack.CanRedo()
}

// Reset drops both stacks and makes g the present.
func (m *Manager) Reset(g graph.Graph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack.Clear()
	m.present = g.Clone()
	m.presentFP = g.ContentFingerprint()
}
