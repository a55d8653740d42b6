package statecraft

import (
	"fmt"
	"reflect"

	"github.com/avigley/statecraft/internal/parser"
)

// MachineDef is a marker type that must be embedded in a struct
// to define a state machine using the reflection DSL.
//
// Use struct tags to configure the machine:
//   - id:"machineId" - Required machine identifier
//   - initial:"stateName" - Required initial root state
//   - history:"50" - Optional snapshot ring capacity
//
// Example:
//
//	type Player struct {
//	    statecraft.MachineDef `id:"player" initial:"stopped"`
//	    Stopped statecraft.StateNode `on:"PLAY->playing"`
//	    Playing statecraft.StateNode `on:"STOP->stopped"`
//	}
type MachineDef struct{}

// StateNode is a marker type for defining atomic states in the reflection
// DSL.
//
// Use struct tags to configure the state:
//   - on:"EVENT->target" - Define a transition (comma for multiple)
//   - on:"EVENT->target:guard1&guard2" - Transition with a guard chain
//   - on:"EVENT->target/action1;action2" - Transition with blocking actions
//   - on:"EVENT->target!notify" - Transition with fire-and-forget actions
//   - on:"EVENT->." - Internal transition (no target)
//   - on:"*->fallback" - Wildcard handler for this level
//   - entry:"action1,action2" - Entry actions
//   - exit:"action1,action2" - Exit actions
//
// Targets use the same reference forms as the builder: sibling names, dot
// paths, machine-anchored absolute paths, and caret references like
// "^.sibling".
type StateNode struct{}

// CompoundNode is a marker type for defining compound (nested) states.
//
// Use struct tags to configure the compound state:
//   - initial:"childState" - Required initial child state
//   - on:"EVENT->target" - Parent-level transitions
//   - entry:"action" / exit:"action" - Parent entry/exit actions
//
// Child states are defined as fields within the struct that embeds
// CompoundNode.
type CompoundNode struct{}

// FinalNode is a marker type for defining final states.
type FinalNode struct{}

// ActionRegistry holds the action, assign and guard implementations
// referenced by name in the reflection DSL.
//
// ActionRegistry is not safe for concurrent use. It should be fully
// configured before calling FromStruct or FromStructWithContext.
type ActionRegistry[C any] struct {
	actions map[ActionType]Action[C]
	assigns map[ActionType]AssignFunc[C]
	guards  map[GuardType]Guard[C]
}

// NewActionRegistry creates a new empty action registry.
func NewActionRegistry[C any]() *ActionRegistry[C] {
	return &ActionRegistry[C]{
		actions: make(map[ActionType]Action[C]),
		assigns: make(map[ActionType]AssignFunc[C]),
		guards:  make(map[GuardType]Guard[C]),
	}
}

// WithAction registers an action function by name.
func (r *ActionRegistry[C]) WithAction(name ActionType, action Action[C]) *ActionRegistry[C] {
	r.actions[name] = action
	return r
}

// WithAssign registers an assign (pure context mutation) by name.
func (r *ActionRegistry[C]) WithAssign(name ActionType, assign AssignFunc[C]) *ActionRegistry[C] {
	r.assigns[name] = assign
	return r
}

// WithGuard registers a guard function by name.
func (r *ActionRegistry[C]) WithGuard(name GuardType, guard Guard[C]) *ActionRegistry[C] {
	r.guards[name] = guard
	return r
}

// FromStruct builds a Machine from a struct definition using the
// reflection DSL.
//
// The struct M must embed MachineDef and define states using StateNode,
// CompoundNode or FinalNode marker types with appropriate struct tags.
// Actions and guards referenced in tags must be registered in the provided
// ActionRegistry; a name registered as an assign runs as an assign action.
func FromStruct[M any, C any](registry *ActionRegistry[C]) (*Machine[C], error) {
	var zero C
	return FromStructWithContext[M](registry, zero)
}

// FromStructWithContext builds a Machine with an initial context value.
func FromStructWithContext[M any, C any](registry *ActionRegistry[C], ctx C) (*Machine[C], error) {
	var m M
	t := reflect.TypeOf(m)

	schema, err := parser.ParseMachineStruct(t)
	if err != nil {
		return nil, fmt.Errorf("parse struct: %w", err)
	}

	b := NewMachine[C](schema.ID).
		WithInitial(schema.Initial).
		WithContext(ctx)
	if schema.HistoryLimit > 0 {
		b.WithHistoryLimit(schema.HistoryLimit)
	}

	if registry != nil {
		for name, action := range registry.actions {
			b.WithAction(name, action)
		}
		for name, assign := range registry.assigns {
			b.WithAssign(name, assign)
		}
		for name, guard := range registry.guards {
			b.WithGuard(name, guard)
		}
	}

	for _, stateSchema := range schema.States {
		applyStateSchema(b.State(stateSchema.Name), stateSchema, registry)
	}

	return b.Build()
}

// applyStateSchema recursively transfers a parsed schema onto the builder.
func applyStateSchema[C any](sb *StateBuilder[C], schema *parser.StateSchema, registry *ActionRegistry[C]) {
	if schema.Type == parser.StateSchemaFinal {
		sb.Final()
	}
	if schema.Initial != "" {
		sb.WithInitial(schema.Initial)
	}
	for _, action := range schema.Entry {
		sb.OnEntry(ActionType(action))
	}
	for _, action := range schema.Exit {
		sb.OnExit(ActionType(action))
	}

	for _, trans := range schema.Transitions {
		tb := sb.On(EventType(trans.Event))
		if trans.Target != "" {
			tb.Target(trans.Target)
		}
		for _, guard := range trans.Guards {
			tb.If(GuardType(guard))
		}
		for _, action := range trans.Actions {
			if registry != nil && registry.isAssign(ActionType(action)) {
				tb.Assign(ActionType(action))
			} else {
				tb.Do(ActionType(action))
			}
		}
		for _, action := range trans.Fire {
			tb.Fire(ActionType(action))
		}
	}

	for _, child := range schema.Children {
		applyStateSchema(sb.State(child.Name), child, registry)
	}
}

func (r *ActionRegistry[C]) isAssign(name ActionType) bool {
	_, ok := r.assigns[name]
	return ok
}
