package ir

// StateType represents the kind of state node
type StateType int

const (
	// StateTypeAtomic is a leaf state with no children
	StateTypeAtomic StateType = iota
	// StateTypeCompound has child states
	StateTypeCompound
	// StateTypeFinal is a terminal state
	StateTypeFinal
)

// String returns the string representation of StateType
func (s StateType) String() string {
	switch s {
	case StateTypeAtomic:
		return "atomic"
	case StateTypeCompound:
		return "compound"
	case StateTypeFinal:
		return "final"
	default:
		return "unknown"
	}
}

// EventType is a named event identifier
type EventType string

// Wildcard is the catch-all event key. A wildcard handler matches any event
// but only after every exact handler at the same level has been tried.
const Wildcard EventType = "*"

// ActionType identifies a named action
type ActionType string

// GuardType identifies a named guard
type GuardType string

// Event represents a runtime event with a structured payload
type Event struct {
	Type    EventType
	Payload map[string]any
}

// Action is a side-effect function executed during transitions.
// The returned value is recorded in the transition result; a non-nil
// error halts the batch.
type Action[C any] func(ctx *C, event Event) (any, error)

// AssignFunc applies a pure context mutation and yields no result value
type AssignFunc[C any] func(ctx *C, event Event)

// Guard is a predicate that determines if a transition may occur.
// An error is treated as a failed guard by the resolver.
type Guard[C any] func(ctx C, event Event) (bool, error)

// TargetFunc computes a transition target reference at event time
type TargetFunc[C any] func(ctx C, event Event) string

// ActionKind distinguishes value-producing actions from pure assigns
type ActionKind int

const (
	// ActionKindDo records the action's return value in the result list
	ActionKindDo ActionKind = iota
	// ActionKindAssign mutates context only; its recorded value is always nil
	ActionKindAssign
)

// ActionRef is an action resolved at build time. Name is empty for
// inline closures and carries the registry key for named actions.
type ActionRef[C any] struct {
	Name ActionType
	Kind ActionKind
	Fn   Action[C]
}

// GuardRef is a guard resolved at build time
type GuardRef[C any] struct {
	Name GuardType
	Fn   Guard[C]
}

// TargetRef is a transition target: either a textual reference resolved
// against the state tree, or a function computing one at event time.
// The zero value marks an internal transition.
type TargetRef[C any] struct {
	Ref string
	Fn  TargetFunc[C]
}

// IsZero reports whether the target is absent (internal transition)
func (t TargetRef[C]) IsZero() bool {
	return t.Ref == "" && t.Fn == nil
}
