// Package history implements single-session linear undo/redo over full
// graph states.
package history

import (
	"github.com/canvas-studio/engine/internal/graph"
)

const DefaultCapacity = 50

// State is one entry of the undo or redo stack.
type State struct {
	Graph       graph.Graph
	Description string

	fingerprint string
}

func newState(g graph.Graph, description string) State {
	return State{Graph: g.Clone(), Description: description, fingerprint: g.ContentFingerprint()}
}

// Stack holds past and future states. It is not safe for concurrent use;
// Manager serializes access.
type Stack struct {
	capacity int
	past     []State
	future   []State
}

func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{capacity: capacity}
}

// Push appends g to the past stack and clears the future stack. A state
// whose blocks and connections equal the most recently pushed one is
// ignored and Push reports false; the viewport is not part of history.
func (s *Stack) Push(g graph.Graph, description string) bool {
	st := newState(g, description)
	if n := len(s.past); n > 0 && s.past[n-1].fingerprint == st.fingerprint {
		return false
	}
	s.past = append(s.past, st)
	if over := len(s.past) - s.capacity; over > 0 {
		clear(s.past[:over])
		s.past = s.past[over:]
	}
	s.future = nil
	return true
}

// Undo pops the newest past state and pushes current onto the future stack.
// It is a no-op returning false when there is nothing to undo.
func (s *Stack) Undo(current graph.Graph) (State, bool) {
	n := len(s.past)
	if n == 0 {
		return State{}, false
	}
	prev := s.past[n-1]
	s.past = s.past[:n-1]
	s.future = append(s.future, newState(current, prev.Description))
	return State{Graph: prev.Graph.Clone(), Description: prev.Description, fingerprint: prev.fingerprint}, true
}

// Redo is the mirror of Undo.
func (s *Stack) Redo(current graph.Graph) (State, bool) {
	n := len(s.future)
	if n == 0 {
		return State{}, false
	}
	next := s.future[n-1]
	s.future = s.future[:n-1]
	s.past = append(s.past, newState(current, next.Description))
	return State{Graph: next.Graph.Clone(), Description: next.Description, fingerprint: next.fingerprint}, true
}

func (s *Stack) CanUndo() bool { return len(s.past) > 0 }
func (s *Stack) CanRedo() bool { return len(s.future) > 0 }
func (s *Stack) Len() int      { return len(s.past) }

// Descriptions lists past entries, oldest first.
func (s *Stack) Descriptions() []string {
	out := make([]string, len(s.past))
	for i, st := range s.past {
		out[i] = st.Description
	}
	return out
}

func (s *Stack) Clear() {
	s.past = nil
	s.future = nil
}
