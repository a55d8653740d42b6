package statecraft

import "github.com/avigley/statecraft/internal/ir"

// Re-export non-generic types from internal/ir for the public API
type (
	// StateType represents the kind of state node
	StateType = ir.StateType
	// EventType is a named event identifier
	EventType = ir.EventType
	// ActionType identifies a named action
	ActionType = ir.ActionType
	// GuardType identifies a named guard
	GuardType = ir.GuardType
	// Event represents a runtime event with a structured payload
	Event = ir.Event
)

// Action is a side-effect function executed during transitions. It receives
// a pointer to the context and the triggering event; the returned value is
// recorded in the transition result, and a non-nil error halts the batch.
type Action[C any] func(ctx *C, event Event) (any, error)

// AssignFunc applies a pure context mutation. Assign actions always record
// a nil value in the result list.
type AssignFunc[C any] func(ctx *C, event Event)

// Guard is a predicate that determines if a transition may occur. A guard
// that returns an error (or panics) counts as failed and the resolver moves
// on to the next candidate.
type Guard[C any] func(ctx C, event Event) (bool, error)

// TargetFunc computes a transition target reference at event time. The
// returned reference is resolved relative to the declaring state.
type TargetFunc[C any] func(ctx C, event Event) string

// Re-export constants
const (
	StateTypeAtomic   = ir.StateTypeAtomic
	StateTypeCompound = ir.StateTypeCompound
	StateTypeFinal    = ir.StateTypeFinal

	// AnyEvent is the wildcard event key, matched only after every exact
	// handler at the same level has been tried.
	AnyEvent = ir.Wildcard
)

// ActionResult is one entry of a transition's ordered result list. Name is
// empty for inline actions; Value is nil for assign actions.
type ActionResult struct {
	Name  string
	Value any
}

// TransitionResult is the settled outcome of a processed event
type TransitionResult[C any] struct {
	// State is the active path after the event, e.g. "parent.child"
	State string
	// Context is the context value after the event
	Context C
	// Results holds one entry per executed blocking action, in order
	Results []ActionResult
}

// Notification is delivered to subscribers exactly once per committed
// transition, after every blocking action has completed.
type Notification struct {
	From  string
	To    string
	Event Event
}

// State is the observable runtime state of an instance
type State[C any] struct {
	// Path is the active root-to-leaf path, e.g. "parent.child"
	Path string
	// Context is the current context value
	Context C
}

// Matches checks whether the active path is the given state or sits below it
func (s State[C]) Matches(id string) bool {
	if s.Path == id {
		return true
	}
	for _, p := range ir.PathChain(s.Path) {
		if p == id || lastSegment(p) == id {
			return true
		}
	}
	return false
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}
