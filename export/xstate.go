// Package export provides read-only renderers that turn a built machine
// configuration into textual diagram formats: XState-compatible JSON,
// Mermaid stateDiagram-v2 and Graphviz DOT. Renderers are pure functions of
// the tree (plus, optionally, an instance's active path) and carry no
// runtime state back into the engine.
package export

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/avigley/statecraft/internal/ir"
)

// XStateExporter converts a machine configuration to XState-compatible
// JSON. The output can be pasted into the XState visualizer (stately.ai)
// and XState v5 compatible tools.
type XStateExporter[C any] struct {
	machine *ir.MachineConfig[C]
}

// NewXStateExporter creates a new exporter for the given machine configuration
func NewXStateExporter[C any](machine *ir.MachineConfig[C]) *XStateExporter[C] {
	return &XStateExporter[C]{machine: machine}
}

// XStateMachine represents an XState machine configuration
type XStateMachine struct {
	ID      string                        `json:"id"`
	Initial string                        `json:"initial,omitempty"`
	States  map[string]XStateNode         `json:"states"`
	On      map[string][]XStateTransition `json:"on,omitempty"` // machine-level handlers
}

// XStateNode represents a single state in XState format
type XStateNode struct {
	Type    string                        `json:"type,omitempty"` // "final", "compound"
	Initial string                        `json:"initial,omitempty"`
	States  map[string]XStateNode         `json:"states,omitempty"`
	Entry   []string                      `json:"entry,omitempty"`
	Exit    []string                      `json:"exit,omitempty"`
	On      map[string][]XStateTransition `json:"on,omitempty"`
}

// XStateTransition represents a transition in XState format
type XStateTransition struct {
	Target   string   `json:"target,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Guard    string   `json:"guard,omitempty"`
	Internal bool     `json:"internal,omitempty"`
}

// Export converts the machine configuration to the XState document model
func (e *XStateExporter[C]) Export() (*XStateMachine, error) {
	machine := &XStateMachine{
		ID:      e.machine.ID,
		Initial: e.machine.Initial,
		States:  make(map[string]XStateNode),
	}

	for _, rootID := range e.machine.Roots {
		machine.States[rootID] = e.buildStateNode(rootID)
	}

	machine.On = buildTransitionMap(e.machine, "", e.machine.Globals)
	return machine, nil
}

// ExportJSON returns the machine configuration as a JSON string
func (e *XStateExporter[C]) ExportJSON() (string, error) {
	machine, err := e.Export()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(machine)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExportJSONIndent returns the machine configuration as formatted JSON
func (e *XStateExporter[C]) ExportJSONIndent(prefix, indent string) (string, error) {
	machine, err := e.Export()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(machine, prefix, indent)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Render implements Renderer
func (e *XStateExporter[C]) Render(opts ExportOptions) ([]byte, error) {
	machine, err := e.Export()
	if err != nil {
		return nil, err
	}
	if opts.PrettyPrint {
		indent := opts.Indent
		if indent == "" {
			indent = "  "
		}
		return json.MarshalIndent(machine, "", indent)
	}
	return json.Marshal(machine)
}

// buildStateNode recursively builds an XState node for the state at path
func (e *XStateExporter[C]) buildStateNode(path string) XStateNode {
	state := e.machine.State(path)
	if state == nil {
		return XStateNode{}
	}

	node := XStateNode{}

	switch state.Type {
	case ir.StateTypeFinal:
		node.Type = "final"
	case ir.StateTypeCompound:
		if len(state.Children) > 0 {
			node.Initial = state.Initial
			node.States = make(map[string]XStateNode)
			for _, childID := range state.Children {
				node.States[childID] = e.buildStateNode(ir.JoinPath(path, childID))
			}
		}
	}

	for _, action := range state.Entry {
		node.Entry = append(node.Entry, actionLabel(action))
	}
	for _, action := range state.Exit {
		node.Exit = append(node.Exit, actionLabel(action))
	}

	node.On = buildTransitionMap(e.machine, path, state.Handlers)
	return node
}

// buildTransitionMap converts one level's handler map, resolving textual
// targets to absolute machine-relative paths where possible.
func buildTransitionMap[C any](m *ir.MachineConfig[C], sourcePath string, handlers map[ir.EventType][]*ir.TransitionConfig[C]) map[string][]XStateTransition {
	if len(handlers) == 0 {
		return nil
	}
	out := make(map[string][]XStateTransition, len(handlers))
	for _, event := range sortedEvents(handlers) {
		for _, trans := range handlers[event] {
			xt := XStateTransition{Internal: trans.IsInternal()}
			if !trans.IsInternal() {
				xt.Target = targetLabel(m, sourcePath, trans)
			}
			for _, action := range trans.Actions {
				xt.Actions = append(xt.Actions, actionLabel(action))
			}
			xt.Guard = guardLabel(trans.Guards)
			out[string(event)] = append(out[string(event)], xt)
		}
	}
	return out
}

func sortedEvents[C any](handlers map[ir.EventType][]*ir.TransitionConfig[C]) []ir.EventType {
	events := make([]ir.EventType, 0, len(handlers))
	for event := range handlers {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// targetLabel resolves a transition target to an absolute "#machine.path"
// reference; dynamic and unresolvable targets keep a descriptive label.
func targetLabel[C any](m *ir.MachineConfig[C], sourcePath string, trans *ir.TransitionConfig[C]) string {
	if trans.Target.Fn != nil {
		return "(dynamic)"
	}
	target := m.Resolve(sourcePath, trans.Target.Ref)
	if target == nil {
		return trans.Target.Ref + " (unresolved)"
	}
	return "#" + m.ID + "." + target.Path
}

func actionLabel[C any](ref ir.ActionRef[C]) string {
	if ref.Name != "" {
		return string(ref.Name)
	}
	return "(inline)"
}

func guardLabel[C any](guards []ir.GuardRef[C]) string {
	if len(guards) == 0 {
		return ""
	}
	names := make([]string, 0, len(guards))
	for _, g := range guards {
		if g.Name != "" {
			names = append(names, string(g.Name))
		} else {
			names = append(names, "(inline)")
		}
	}
	return strings.Join(names, " && ")
}
