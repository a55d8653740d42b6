package ir

import "strings"

// MachineConfig is the immutable internal representation of a state machine.
// It is built once by the public builder and never mutated afterwards; every
// instance started from it shares the same tree.
type MachineConfig[C any] struct {
	ID      string
	Initial string // root-level state ID entered at start
	Context C
	Roots   []string                // root state IDs in declaration order
	States  map[string]*StateConfig[C] // keyed by full path
	// Globals are machine-level handlers, consulted as a level above the
	// root after bubbling exhausts every ancestor.
	Globals      map[EventType][]*TransitionConfig[C]
	HistoryLimit int
}

// StateConfig represents a single state node. IDs are unique among siblings;
// the path (dot-joined ancestor chain) is unique across the tree.
type StateConfig[C any] struct {
	ID       string
	Path     string
	Type     StateType
	Parent   string   // parent path, empty for root-level states
	Initial  string   // initial child ID, compound states only
	Children []string // child IDs in declaration order
	Entry    []ActionRef[C]
	Exit     []ActionRef[C]
	Handlers map[EventType][]*TransitionConfig[C]
}

// TransitionConfig represents a single transition descriptor
type TransitionConfig[C any] struct {
	Event   EventType
	Source  string // declaring state path, empty for machine-level handlers
	Target  TargetRef[C]
	Guards  []GuardRef[C]
	Actions []ActionRef[C]
	// Fire actions run detached after the transition commits; their
	// failures never reach the caller.
	Fire []ActionRef[C]
}

// IsInternal reports whether the transition has no target
func (t *TransitionConfig[C]) IsInternal() bool {
	return t.Target.IsZero()
}

// NewMachineConfig creates a new MachineConfig with initialized maps
func NewMachineConfig[C any](id string, initial string, ctx C) *MachineConfig[C] {
	return &MachineConfig[C]{
		ID:      id,
		Initial: initial,
		Context: ctx,
		States:  make(map[string]*StateConfig[C]),
		Globals: make(map[EventType][]*TransitionConfig[C]),
	}
}

// NewStateConfig creates a new StateConfig
func NewStateConfig[C any](id, path string, stateType StateType) *StateConfig[C] {
	return &StateConfig[C]{
		ID:       id,
		Path:     path,
		Type:     stateType,
		Handlers: make(map[EventType][]*TransitionConfig[C]),
	}
}

// JoinPath appends a child ID to a parent path
func JoinPath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "." + id
}

// State returns the state config for the given path, or nil if not found
func (m *MachineConfig[C]) State(path string) *StateConfig[C] {
	return m.States[path]
}

// IsCompound returns true if this is a compound state with children
func (s *StateConfig[C]) IsCompound() bool {
	return s.Type == StateTypeCompound && len(s.Children) > 0
}

// IsFinal returns true if this is a final state
func (s *StateConfig[C]) IsFinal() bool {
	return s.Type == StateTypeFinal
}

// Ancestors returns ancestor paths from immediate parent up to the root
func (m *MachineConfig[C]) Ancestors(path string) []string {
	var ancestors []string
	current := m.State(path)
	for current != nil && current.Parent != "" {
		ancestors = append(ancestors, current.Parent)
		current = m.State(current.Parent)
	}
	return ancestors
}

// PathChain returns the full root-to-node chain of paths for the given path,
// e.g. "a.b.c" yields ["a", "a.b", "a.b.c"].
func PathChain(path string) []string {
	if path == "" {
		return nil
	}
	segs := strings.Split(path, ".")
	chain := make([]string, len(segs))
	for i := range segs {
		chain[i] = strings.Join(segs[:i+1], ".")
	}
	return chain
}

// LCA returns the path of the lowest common ancestor of two paths, or the
// empty string when the paths diverge at the root level.
func LCA(a, b string) string {
	sa := strings.Split(a, ".")
	sb := strings.Split(b, ".")
	n := 0
	for n < len(sa) && n < len(sb) && sa[n] == sb[n] {
		n++
	}
	// A state is not its own ancestor: when one path contains the other,
	// the LCA is the parent of the shorter one.
	if n == len(sa) || n == len(sb) {
		n--
	}
	if n <= 0 {
		return ""
	}
	return strings.Join(sa[:n], ".")
}

// IsDescendantOf checks if path is strictly below ancestorPath
func IsDescendantOf(path, ancestorPath string) bool {
	return strings.HasPrefix(path, ancestorPath+".")
}

// InitialLeaf resolves a state to its deepest initial leaf by recursively
// descending through designated initial children. Atomic and final states
// resolve to themselves.
func (m *MachineConfig[C]) InitialLeaf(path string) string {
	state := m.State(path)
	for state != nil && state.IsCompound() && state.Initial != "" {
		next := m.State(JoinPath(state.Path, state.Initial))
		if next == nil {
			break
		}
		state = next
	}
	if state == nil {
		return path
	}
	return state.Path
}

// Resolve resolves a textual target reference against the tree, relative to
// the state at fromPath (empty for machine-level handlers). Accepted forms:
//
//   - a name local to the declaring state's siblings
//   - a dot-separated path anchored at the declaring state or any ancestor
//   - an absolute path anchored at the machine ID
//   - `^`, `^^`, ... climbing N ancestors, optionally followed by `.child.path`
//
// Unresolvable references return nil; callers treat that as "no transition".
func (m *MachineConfig[C]) Resolve(fromPath, ref string) *StateConfig[C] {
	if ref == "" {
		return nil
	}

	if strings.HasPrefix(ref, "^") {
		return m.resolveRelative(fromPath, ref)
	}

	segs := strings.Split(ref, ".")
	for _, s := range segs {
		if s == "" {
			return nil // malformed: empty segment
		}
	}

	// Sibling-local: first segment names a sibling of the declaring state
	// (or a root state for machine-level handlers and root-level states).
	siblingScope := ""
	if from := m.State(fromPath); from != nil {
		siblingScope = from.Parent
	}
	if node := m.descend(siblingScope, segs); node != nil {
		return node
	}

	// Anchored at the declaring state itself or any of its ancestors.
	for _, anchor := range append([]string{fromPath}, m.Ancestors(fromPath)...) {
		state := m.State(anchor)
		if state == nil || state.ID != segs[0] {
			continue
		}
		if len(segs) == 1 {
			return state
		}
		if node := m.descend(anchor, segs[1:]); node != nil {
			return node
		}
	}

	// Absolute, anchored at the machine ID.
	if segs[0] == m.ID && len(segs) > 1 {
		if node := m.descend("", segs[1:]); node != nil {
			return node
		}
	}

	return nil
}

// resolveRelative handles caret references: one caret per ancestor level,
// optionally followed by a descending child path.
func (m *MachineConfig[C]) resolveRelative(fromPath, ref string) *StateConfig[C] {
	carets := 0
	for carets < len(ref) && ref[carets] == '^' {
		carets++
	}
	rest := ref[carets:]
	if rest != "" && !strings.HasPrefix(rest, ".") {
		return nil // malformed, e.g. "^foo"
	}

	node := m.State(fromPath)
	for i := 0; i < carets; i++ {
		if node == nil || node.Parent == "" {
			return nil // climbed past the root
		}
		node = m.State(node.Parent)
	}
	if node == nil {
		return nil
	}
	if rest == "" {
		return node
	}
	segs := strings.Split(rest[1:], ".")
	for _, s := range segs {
		if s == "" {
			return nil
		}
	}
	return m.descend(node.Path, segs)
}

// descend follows child IDs from the given scope path ("" for root level)
func (m *MachineConfig[C]) descend(scope string, segs []string) *StateConfig[C] {
	children := m.Roots
	if scope != "" {
		parent := m.State(scope)
		if parent == nil {
			return nil
		}
		children = parent.Children
	}

	var node *StateConfig[C]
	for _, seg := range segs {
		found := false
		for _, childID := range children {
			if childID == seg {
				node = m.State(JoinPath(scope, childID))
				found = node != nil
				break
			}
		}
		if !found {
			return nil
		}
		scope = node.Path
		children = node.Children
	}
	return node
}

// HandlersFor returns the ordered candidate transitions for an event at one
// level of the tree: exact matches first, then the level's wildcard entry.
func (s *StateConfig[C]) HandlersFor(event EventType) []*TransitionConfig[C] {
	exact := s.Handlers[event]
	wild := s.Handlers[Wildcard]
	if event == Wildcard {
		return exact
	}
	return appendCandidates(exact, wild)
}

// GlobalHandlersFor mirrors HandlersFor for the machine-level handler map
func (m *MachineConfig[C]) GlobalHandlersFor(event EventType) []*TransitionConfig[C] {
	exact := m.Globals[event]
	wild := m.Globals[Wildcard]
	if event == Wildcard {
		return exact
	}
	return appendCandidates(exact, wild)
}

func appendCandidates[C any](exact, wild []*TransitionConfig[C]) []*TransitionConfig[C] {
	if len(wild) == 0 {
		return exact
	}
	out := make([]*TransitionConfig[C], 0, len(exact)+len(wild))
	out = append(out, exact...)
	out = append(out, wild...)
	return out
}
