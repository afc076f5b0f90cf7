// Package convstate tracks the per-conversation runtime state that lives
// between turns in one process: dynamically loaded tool handles and which
// missing-credential warnings have already been surfaced. The state is
// rebuildable, losing it only means tools get rediscovered on the next turn.
package convstate

import (
	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/internal/dyntool"
)

// State is the in-memory tool state for a single conversation.
// It is not safe for concurrent use; callers serialize turns per
// conversation through a Locks manager.
type State struct {
	tools   map[string]agent.Tool // registration name -> handle
	byID    map[string]string     // tool id -> registration name
	order   []string              // registration names in load order
	idOrder []string              // tool ids in load order
}

// NewState returns an empty conversation state.
func NewState() *State {
	return &State{
		tools: make(map[string]agent.Tool),
		byID:  make(map[string]string),
	}
}

// ResolveName computes the registration name for a tool id. It returns
// ok=false when the id is already registered or sanitizes to nothing, in
// which case the tool must be skipped. When the sanitized name collides
// with one held by a different tool id, the name is widened with a short
// hash suffix so both tools stay addressable.
func (s *State) ResolveName(toolID string) (name string, ok bool) {
	if _, exists := s.byID[toolID]; exists {
		return "", false
	}
	name = dyntool.SanitizeToolID(toolID)
	if name == "" {
		return "", false
	}
	if _, taken := s.tools[name]; taken {
		name += dyntool.CollisionSuffix(toolID)
		if _, stillTaken := s.tools[name]; stillTaken {
			return "", false
		}
	}
	return name, true
}

// AddTool registers a tool handle under the name ResolveName produced.
func (s *State) AddTool(name, toolID string, tool agent.Tool) {
	if _, exists := s.tools[name]; exists {
		return
	}
	s.tools[name] = tool
	s.byID[toolID] = name
	s.order = append(s.order, name)
	s.idOrder = append(s.idOrder, toolID)
}

// Tool looks up a handle by registration name.
func (s *State) Tool(name string) (agent.Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Has reports whether a tool id is already loaded.
func (s *State) Has(toolID string) bool {
	_, ok := s.byID[toolID]
	return ok
}

// Tools returns the loaded handles in load order.
func (s *State) Tools() []agent.Tool {
	out := make([]agent.Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name])
	}
	return out
}

// Names returns the registration names in load order.
func (s *State) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of loaded tools.
func (s *State) Len() int { return len(s.order) }

// ToolIDs returns the loaded composite tool ids in load order.
func (s *State) ToolIDs() []string {
	out := make([]string, len(s.idOrder))
	copy(out, s.idOrder)
	return out
}

// Store is where conversation state lives between turns. Implementations
// decide retention; callers must tolerate state disappearing at any time.
type Store interface {
	// Get returns the state for a conversation, if any is retained.
	Get(conversationID string) (*State, bool)
	// GetOrCreate returns the retained state or installs a fresh one.
	GetOrCreate(conversationID string) *State
	// Put stores (or refreshes) the state for a conversation.
	Put(conversationID string, st *State)
	// Delete drops a conversation's state.
	Delete(conversationID string)
}
