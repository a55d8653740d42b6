package export

import (
	"fmt"
	"strings"

	"github.com/avigley/statecraft/internal/ir"
)

// MermaidExporter renders a machine configuration as a Mermaid
// stateDiagram-v2 source, suitable for embedding in markdown.
type MermaidExporter[C any] struct {
	machine *ir.MachineConfig[C]
}

// NewMermaidExporter creates a new exporter for the given machine configuration
func NewMermaidExporter[C any](machine *ir.MachineConfig[C]) *MermaidExporter[C] {
	return &MermaidExporter[C]{machine: machine}
}

// Export renders the diagram. An empty activePath highlights nothing;
// otherwise every state on the path is tagged with the "active" class.
func (e *MermaidExporter[C]) Export(activePath string) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")

	for _, rootID := range e.machine.Roots {
		e.writeState(&b, rootID, 1)
	}

	if e.machine.Initial != "" {
		fmt.Fprintf(&b, "    [*] --> %s\n", sanitizeID(e.machine.Initial))
	}

	for _, path := range e.statePaths() {
		e.writeTransitions(&b, path)
	}
	e.writeGlobals(&b)

	if activePath != "" {
		b.WriteString("    classDef active fill:#f9a825,stroke:#333,stroke-width:2px\n")
		for _, path := range ir.PathChain(activePath) {
			if e.machine.State(path) != nil {
				fmt.Fprintf(&b, "    class %s active\n", sanitizeID(path))
			}
		}
	}

	return b.String()
}

// Render implements Renderer
func (e *MermaidExporter[C]) Render(opts ExportOptions) ([]byte, error) {
	return []byte(e.Export(opts.ActivePath)), nil
}

// writeState emits the state declaration, recursing into children so that
// nested states render as Mermaid composite blocks.
func (e *MermaidExporter[C]) writeState(b *strings.Builder, path string, depth int) {
	state := e.machine.State(path)
	if state == nil {
		return
	}
	pad := strings.Repeat("    ", depth)
	alias := sanitizeID(path)

	if len(state.Children) == 0 {
		fmt.Fprintf(b, "%sstate \"%s\" as %s\n", pad, state.ID, alias)
		if state.Type == ir.StateTypeFinal {
			fmt.Fprintf(b, "%s%s --> [*]\n", pad, alias)
		}
		return
	}

	fmt.Fprintf(b, "%sstate \"%s\" as %s {\n", pad, state.ID, alias)
	for _, childID := range state.Children {
		e.writeState(b, ir.JoinPath(path, childID), depth+1)
	}
	if state.Initial != "" {
		fmt.Fprintf(b, "%s    [*] --> %s\n", pad, sanitizeID(ir.JoinPath(path, state.Initial)))
	}
	fmt.Fprintf(b, "%s}\n", pad)
}

// writeTransitions emits the edges declared at one state, in sorted event
// order so output is deterministic.
func (e *MermaidExporter[C]) writeTransitions(b *strings.Builder, path string) {
	state := e.machine.State(path)
	if state == nil || len(state.Handlers) == 0 {
		return
	}
	source := sanitizeID(path)
	for _, event := range sortedEvents(state.Handlers) {
		for _, trans := range state.Handlers[event] {
			label := transitionLabel(string(event), guardLabel(trans.Guards), actionNames(trans.Actions))
			switch {
			case trans.IsInternal():
				fmt.Fprintf(b, "    %s --> %s: %s (internal)\n", source, source, label)
			case trans.Target.Fn != nil:
				fmt.Fprintf(b, "    %%%% %s: %s -> (dynamic)\n", source, label)
			default:
				target := e.machine.Resolve(path, trans.Target.Ref)
				if target == nil {
					fmt.Fprintf(b, "    %%%% %s: %s -> %s (unresolved)\n", source, label, trans.Target.Ref)
					continue
				}
				fmt.Fprintf(b, "    %s --> %s: %s\n", source, sanitizeID(target.Path), label)
			}
		}
	}
}

// writeGlobals emits machine-level handlers as comments; drawing them as
// edges from every state would swamp the diagram.
func (e *MermaidExporter[C]) writeGlobals(b *strings.Builder) {
	for _, event := range sortedEvents(e.machine.Globals) {
		for _, trans := range e.machine.Globals[event] {
			label := transitionLabel(string(event), guardLabel(trans.Guards), actionNames(trans.Actions))
			targetRef := trans.Target.Ref
			if trans.Target.Fn != nil {
				targetRef = "(dynamic)"
			}
			fmt.Fprintf(b, "    %%%% global: %s -> %s\n", label, targetRef)
		}
	}
}

// statePaths lists all state paths in tree order (roots, then children
// depth-first in declaration order).
func (e *MermaidExporter[C]) statePaths() []string {
	var paths []string
	var walk func(path string)
	walk = func(path string) {
		state := e.machine.State(path)
		if state == nil {
			return
		}
		paths = append(paths, path)
		for _, childID := range state.Children {
			walk(ir.JoinPath(path, childID))
		}
	}
	for _, rootID := range e.machine.Roots {
		walk(rootID)
	}
	return paths
}

func actionNames[C any](refs []ir.ActionRef[C]) []string {
	if len(refs) == 0 {
		return nil
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, actionLabel(ref))
	}
	return names
}
