package statecraft

import (
	"go.uber.org/zap"

	"github.com/avigley/statecraft/internal/ir"
)

// DefaultHistoryLimit is the snapshot ring capacity used when the builder
// is not given an explicit limit.
const DefaultHistoryLimit = 100

// MachineBuilder provides a fluent API for constructing state machines
type MachineBuilder[C any] struct {
	id           string
	initial      string
	context      C
	historyLimit int
	logger       *zap.Logger
	fireErr      func(error)
	states       []*StateBuilder[C]
	globals      []*TransitionBuilder[C]
	actions      map[ActionType]Action[C]
	assigns      map[ActionType]AssignFunc[C]
	guards       map[GuardType]Guard[C]
}

// StateBuilder provides a fluent API for constructing states
type StateBuilder[C any] struct {
	machine     *MachineBuilder[C]
	parent      *StateBuilder[C] // parent state for nested states
	id          string
	stateType   StateType
	initial     string // initial child ID (for compound states)
	children    []*StateBuilder[C]
	entry       []actionSpec[C]
	exit        []actionSpec[C]
	transitions []*TransitionBuilder[C]
}

// TransitionBuilder provides a fluent API for constructing transitions.
// A transition without a target is internal: it runs only its own actions.
type TransitionBuilder[C any] struct {
	machine   *MachineBuilder[C]
	state     *StateBuilder[C] // nil for machine-level handlers
	event     EventType
	targetRef string
	targetFn  TargetFunc[C]
	guards    []guardSpec[C]
	actions   []actionSpec[C]
	fire      []actionSpec[C]
}

type actionSpec[C any] struct {
	name   ActionType // registry key, empty for inline
	kind   ir.ActionKind
	fn     Action[C]       // inline do
	assign AssignFunc[C]   // inline assign
}

type guardSpec[C any] struct {
	name GuardType
	fn   Guard[C]
}

// NewMachine creates a new MachineBuilder with the given ID
func NewMachine[C any](id string) *MachineBuilder[C] {
	return &MachineBuilder[C]{
		id:           id,
		historyLimit: DefaultHistoryLimit,
		logger:       zap.NewNop(),
		actions:      make(map[ActionType]Action[C]),
		assigns:      make(map[ActionType]AssignFunc[C]),
		guards:       make(map[GuardType]Guard[C]),
	}
}

// WithInitial sets the initial root state ID
func (b *MachineBuilder[C]) WithInitial(initial string) *MachineBuilder[C] {
	b.initial = initial
	return b
}

// WithContext sets the initial context value
func (b *MachineBuilder[C]) WithContext(ctx C) *MachineBuilder[C] {
	b.context = ctx
	return b
}

// WithHistoryLimit sets the snapshot ring capacity for started instances
func (b *MachineBuilder[C]) WithHistoryLimit(limit int) *MachineBuilder[C] {
	b.historyLimit = limit
	return b
}

// WithLogger sets the logger used by started instances. Defaults to a nop
// logger; the runtime logs fire-and-forget failures, subscriber panics and
// snapshot capture problems.
func (b *MachineBuilder[C]) WithLogger(logger *zap.Logger) *MachineBuilder[C] {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithFireErrorHandler installs a handler for fire-and-forget action
// failures. Those failures never reach the triggering Send future; without
// a handler they are only logged.
func (b *MachineBuilder[C]) WithFireErrorHandler(fn func(error)) *MachineBuilder[C] {
	b.fireErr = fn
	return b
}

// WithAction registers a named action
func (b *MachineBuilder[C]) WithAction(name ActionType, action Action[C]) *MachineBuilder[C] {
	b.actions[name] = action
	return b
}

// WithAssign registers a named assign, a pure context mutation
func (b *MachineBuilder[C]) WithAssign(name ActionType, assign AssignFunc[C]) *MachineBuilder[C] {
	b.assigns[name] = assign
	return b
}

// WithGuard registers a named guard
func (b *MachineBuilder[C]) WithGuard(name GuardType, guard Guard[C]) *MachineBuilder[C] {
	b.guards[name] = guard
	return b
}

// State starts building a new root-level state with the given ID
func (b *MachineBuilder[C]) State(id string) *StateBuilder[C] {
	sb := &StateBuilder[C]{
		machine:   b,
		id:        id,
		stateType: StateTypeAtomic,
	}
	b.states = append(b.states, sb)
	return sb
}

// On starts building a machine-level handler, consulted as a level above
// the root after bubbling exhausts every ancestor.
func (b *MachineBuilder[C]) On(event EventType) *TransitionBuilder[C] {
	tb := &TransitionBuilder[C]{machine: b, event: event}
	b.globals = append(b.globals, tb)
	return tb
}

// Build constructs the immutable machine from the builder. All named
// action/guard references are resolved here; dangling names and malformed
// trees are reported together as a single *ir.ValidationError.
func (b *MachineBuilder[C]) Build() (*Machine[C], error) {
	cfg := ir.NewMachineConfig(b.id, b.initial, b.context)
	cfg.HistoryLimit = b.historyLimit

	for _, sb := range b.states {
		cfg.Roots = append(cfg.Roots, sb.id)
		b.buildState(sb, "", cfg)
	}
	for _, tb := range b.globals {
		cfg.Globals[tb.event] = append(cfg.Globals[tb.event], b.buildTransition(tb, ""))
	}

	if err := ir.Validate(cfg); err != nil {
		return nil, err
	}

	return &Machine[C]{
		config:  cfg,
		logger:  b.logger,
		fireErr: b.fireErr,
	}, nil
}

// buildState adds a state and its children to the machine config
func (b *MachineBuilder[C]) buildState(sb *StateBuilder[C], parentPath string, cfg *ir.MachineConfig[C]) {
	stateType := sb.stateType
	if len(sb.children) > 0 && sb.stateType == StateTypeAtomic {
		stateType = StateTypeCompound
	}

	path := ir.JoinPath(parentPath, sb.id)
	state := ir.NewStateConfig[C](sb.id, path, stateType)
	state.Parent = parentPath
	state.Initial = sb.initial
	for _, child := range sb.children {
		state.Children = append(state.Children, child.id)
	}

	state.Entry = b.resolveActions(sb.entry)
	state.Exit = b.resolveActions(sb.exit)

	for _, tb := range sb.transitions {
		state.Handlers[tb.event] = append(state.Handlers[tb.event], b.buildTransition(tb, path))
	}

	cfg.States[path] = state

	for _, child := range sb.children {
		b.buildState(child, path, cfg)
	}
}

func (b *MachineBuilder[C]) buildTransition(tb *TransitionBuilder[C], sourcePath string) *ir.TransitionConfig[C] {
	t := &ir.TransitionConfig[C]{
		Event:  tb.event,
		Source: sourcePath,
		Target: ir.TargetRef[C]{Ref: tb.targetRef, Fn: ir.TargetFunc[C](tb.targetFn)},
	}
	for _, g := range tb.guards {
		ref := ir.GuardRef[C]{Name: ir.GuardType(g.name)}
		if g.fn != nil {
			ref.Fn = ir.Guard[C](g.fn)
		} else {
			ref.Fn = ir.Guard[C](b.guards[g.name]) // nil if unregistered
		}
		t.Guards = append(t.Guards, ref)
	}
	t.Actions = b.resolveActions(tb.actions)
	t.Fire = b.resolveActions(tb.fire)
	return t
}

// resolveActions turns builder specs into build-time-resolved refs. A named
// spec with no registry entry yields a nil Fn, reported by validation.
func (b *MachineBuilder[C]) resolveActions(specs []actionSpec[C]) []ir.ActionRef[C] {
	if len(specs) == 0 {
		return nil
	}
	refs := make([]ir.ActionRef[C], 0, len(specs))
	for _, spec := range specs {
		ref := ir.ActionRef[C]{Name: ir.ActionType(spec.name), Kind: spec.kind}
		switch {
		case spec.fn != nil:
			ref.Fn = ir.Action[C](spec.fn)
		case spec.assign != nil:
			ref.Fn = wrapAssign(spec.assign)
		case spec.kind == ir.ActionKindAssign:
			if assign, ok := b.assigns[spec.name]; ok {
				ref.Fn = wrapAssign(assign)
			}
		default:
			if action, ok := b.actions[spec.name]; ok {
				ref.Fn = ir.Action[C](action)
			} else if assign, ok := b.assigns[spec.name]; ok {
				// A name registered as an assign keeps assign semantics
				// wherever it is referenced.
				ref.Kind = ir.ActionKindAssign
				ref.Fn = wrapAssign(assign)
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func wrapAssign[C any](assign AssignFunc[C]) ir.Action[C] {
	return func(ctx *C, event ir.Event) (any, error) {
		assign(ctx, event)
		return nil, nil
	}
}

// --- StateBuilder methods ---

// Final marks this state as a final state
func (b *StateBuilder[C]) Final() *StateBuilder[C] {
	b.stateType = StateTypeFinal
	return b
}

// OnEntry adds a named entry action to the state
func (b *StateBuilder[C]) OnEntry(name ActionType) *StateBuilder[C] {
	b.entry = append(b.entry, actionSpec[C]{name: name})
	return b
}

// OnEntryFunc adds an inline entry action to the state
func (b *StateBuilder[C]) OnEntryFunc(fn Action[C]) *StateBuilder[C] {
	b.entry = append(b.entry, actionSpec[C]{fn: fn})
	return b
}

// OnExit adds a named exit action to the state
func (b *StateBuilder[C]) OnExit(name ActionType) *StateBuilder[C] {
	b.exit = append(b.exit, actionSpec[C]{name: name})
	return b
}

// OnExitFunc adds an inline exit action to the state
func (b *StateBuilder[C]) OnExitFunc(fn Action[C]) *StateBuilder[C] {
	b.exit = append(b.exit, actionSpec[C]{fn: fn})
	return b
}

// WithInitial designates the initial child for a compound state
func (b *StateBuilder[C]) WithInitial(initial string) *StateBuilder[C] {
	b.initial = initial
	return b
}

// State starts building a nested child state
func (b *StateBuilder[C]) State(id string) *StateBuilder[C] {
	child := &StateBuilder[C]{
		machine:   b.machine,
		parent:    b,
		id:        id,
		stateType: StateTypeAtomic,
	}
	b.children = append(b.children, child)
	return child
}

// On starts building a transition triggered by the given event. Use
// AnyEvent for the level's wildcard handler.
func (b *StateBuilder[C]) On(event EventType) *TransitionBuilder[C] {
	tb := &TransitionBuilder[C]{
		machine: b.machine,
		state:   b,
		event:   event,
	}
	b.transitions = append(b.transitions, tb)
	return tb
}

// Done completes the state definition and returns to the machine builder
func (b *StateBuilder[C]) Done() *MachineBuilder[C] {
	return b.machine
}

// End completes a nested state and returns to the parent StateBuilder.
// Use this instead of Done() when building nested states.
func (b *StateBuilder[C]) End() *StateBuilder[C] {
	if b.parent != nil {
		return b.parent
	}
	return nil
}

// --- TransitionBuilder methods ---

// Target sets the transition target: a sibling name, a dot path from an
// ancestor, an absolute machine-anchored path, or a caret reference such as
// "^" or "^^.sibling".
func (b *TransitionBuilder[C]) Target(ref string) *TransitionBuilder[C] {
	b.targetRef = ref
	return b
}

// TargetFunc sets a function computing the target reference at event time
func (b *TransitionBuilder[C]) TargetFunc(fn TargetFunc[C]) *TransitionBuilder[C] {
	b.targetFn = fn
	return b
}

// If appends a named guard to the transition's guard chain. Guards run
// left-to-right; all must pass.
func (b *TransitionBuilder[C]) If(name GuardType) *TransitionBuilder[C] {
	b.guards = append(b.guards, guardSpec[C]{name: name})
	return b
}

// IfFunc appends an inline guard to the transition's guard chain
func (b *TransitionBuilder[C]) IfFunc(fn Guard[C]) *TransitionBuilder[C] {
	b.guards = append(b.guards, guardSpec[C]{fn: fn})
	return b
}

// Do appends a named blocking action to the transition
func (b *TransitionBuilder[C]) Do(name ActionType) *TransitionBuilder[C] {
	b.actions = append(b.actions, actionSpec[C]{name: name})
	return b
}

// DoFunc appends an inline blocking action to the transition
func (b *TransitionBuilder[C]) DoFunc(fn Action[C]) *TransitionBuilder[C] {
	b.actions = append(b.actions, actionSpec[C]{fn: fn})
	return b
}

// Assign appends a named assign action to the transition
func (b *TransitionBuilder[C]) Assign(name ActionType) *TransitionBuilder[C] {
	b.actions = append(b.actions, actionSpec[C]{name: name, kind: ir.ActionKindAssign})
	return b
}

// AssignFunc appends an inline assign action to the transition
func (b *TransitionBuilder[C]) AssignFunc(fn AssignFunc[C]) *TransitionBuilder[C] {
	b.actions = append(b.actions, actionSpec[C]{assign: fn, kind: ir.ActionKindAssign})
	return b
}

// Fire appends a named fire-and-forget action, scheduled after the
// transition commits and never awaited by the caller.
func (b *TransitionBuilder[C]) Fire(name ActionType) *TransitionBuilder[C] {
	b.fire = append(b.fire, actionSpec[C]{name: name})
	return b
}

// FireFunc appends an inline fire-and-forget action
func (b *TransitionBuilder[C]) FireFunc(fn Action[C]) *TransitionBuilder[C] {
	b.fire = append(b.fire, actionSpec[C]{fn: fn})
	return b
}

// On starts a new transition on the same state (chainable)
func (b *TransitionBuilder[C]) On(event EventType) *TransitionBuilder[C] {
	if b.state != nil {
		return b.state.On(event)
	}
	return b.machine.On(event)
}

// Done completes the definition and returns to the machine builder
func (b *TransitionBuilder[C]) Done() *MachineBuilder[C] {
	return b.machine
}

// End completes the transition and returns to the owning StateBuilder
func (b *TransitionBuilder[C]) End() *StateBuilder[C] {
	return b.state
}
