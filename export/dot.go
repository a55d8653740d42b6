package export

import (
	"fmt"
	"strings"

	"github.com/avigley/statecraft/internal/ir"
)

// DOTExporter renders a machine configuration as Graphviz DOT source.
// Compound states become clusters; edges that start or end at a compound
// state attach to its initial leaf and use lhead/ltail so Graphviz draws
// them at the cluster border.
type DOTExporter[C any] struct {
	machine *ir.MachineConfig[C]
}

// NewDOTExporter creates a new exporter for the given machine configuration
func NewDOTExporter[C any](machine *ir.MachineConfig[C]) *DOTExporter[C] {
	return &DOTExporter[C]{machine: machine}
}

// Export renders the graph. An empty activePath highlights nothing;
// otherwise the active leaf is filled and its ancestors' clusters outlined.
func (e *DOTExporter[C]) Export(activePath string) string {
	active := map[string]bool{}
	if activePath != "" {
		for _, path := range ir.PathChain(activePath) {
			active[path] = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", e.machine.ID)
	b.WriteString("    rankdir=LR;\n")
	b.WriteString("    compound=true;\n")
	b.WriteString("    node [shape=box, style=rounded, fontname=\"Helvetica\"];\n")
	b.WriteString("    __start [shape=point];\n")

	for _, rootID := range e.machine.Roots {
		e.writeNode(&b, rootID, 1, active)
	}

	if e.machine.Initial != "" {
		e.writeEdge(&b, "__start", e.machine.Initial, "")
	}

	var walk func(path string)
	walk = func(path string) {
		state := e.machine.State(path)
		if state == nil {
			return
		}
		e.writeStateEdges(&b, path)
		for _, childID := range state.Children {
			walk(ir.JoinPath(path, childID))
		}
	}
	for _, rootID := range e.machine.Roots {
		walk(rootID)
	}

	b.WriteString("}\n")
	return b.String()
}

// Render implements Renderer
func (e *DOTExporter[C]) Render(opts ExportOptions) ([]byte, error) {
	return []byte(e.Export(opts.ActivePath)), nil
}

func (e *DOTExporter[C]) writeNode(b *strings.Builder, path string, depth int, active map[string]bool) {
	state := e.machine.State(path)
	if state == nil {
		return
	}
	pad := strings.Repeat("    ", depth)

	if len(state.Children) == 0 {
		attrs := []string{fmt.Sprintf("label=%q", state.ID)}
		if state.Type == ir.StateTypeFinal {
			attrs = append(attrs, "peripheries=2")
		}
		if active[path] {
			attrs = append(attrs, "style=\"rounded,filled\"", "fillcolor=\"#f9a825\"")
		}
		fmt.Fprintf(b, "%s%s [%s];\n", pad, sanitizeID(path), strings.Join(attrs, ", "))
		return
	}

	fmt.Fprintf(b, "%ssubgraph cluster_%s {\n", pad, sanitizeID(path))
	fmt.Fprintf(b, "%s    label=%q;\n", pad, state.ID)
	if active[path] {
		fmt.Fprintf(b, "%s    color=\"#f9a825\";\n", pad)
		fmt.Fprintf(b, "%s    penwidth=2;\n", pad)
	}
	for _, childID := range state.Children {
		e.writeNode(b, ir.JoinPath(path, childID), depth+1, active)
	}
	fmt.Fprintf(b, "%s}\n", pad)
}

// writeStateEdges emits edges for one state's handlers in sorted event order.
func (e *DOTExporter[C]) writeStateEdges(b *strings.Builder, path string) {
	state := e.machine.State(path)
	if state == nil || len(state.Handlers) == 0 {
		return
	}
	for _, event := range sortedEvents(state.Handlers) {
		for _, trans := range state.Handlers[event] {
			label := transitionLabel(string(event), guardLabel(trans.Guards), actionNames(trans.Actions))
			switch {
			case trans.IsInternal():
				e.writeEdgeNodes(b, path, path, label+" (internal)")
			case trans.Target.Fn != nil:
				fmt.Fprintf(b, "    // %s: %s -> (dynamic)\n", sanitizeID(path), label)
			default:
				target := e.machine.Resolve(path, trans.Target.Ref)
				if target == nil {
					fmt.Fprintf(b, "    // %s: %s -> %s (unresolved)\n", sanitizeID(path), label, trans.Target.Ref)
					continue
				}
				e.writeEdgeNodes(b, path, target.Path, label)
			}
		}
	}
}

// writeEdge draws from a literal tail node (already sanitized) to a state
// path, used for the start marker.
func (e *DOTExporter[C]) writeEdge(b *strings.Builder, tail, toPath, label string) {
	head, lhead := e.anchor(toPath)
	attrs := e.edgeAttrs(label, "", lhead)
	fmt.Fprintf(b, "    %s -> %s%s;\n", tail, head, attrs)
}

// writeEdgeNodes draws between two state paths, anchoring compound ends at
// their initial leaf with lhead/ltail.
func (e *DOTExporter[C]) writeEdgeNodes(b *strings.Builder, fromPath, toPath, label string) {
	tail, ltail := e.anchor(fromPath)
	head, lhead := e.anchor(toPath)
	attrs := e.edgeAttrs(label, ltail, lhead)
	fmt.Fprintf(b, "    %s -> %s%s;\n", tail, head, attrs)
}

// anchor returns the node name an edge should attach to for a state path,
// and the cluster name to clip at when the state is compound.
func (e *DOTExporter[C]) anchor(path string) (node, cluster string) {
	state := e.machine.State(path)
	if state == nil {
		return sanitizeID(path), ""
	}
	if len(state.Children) == 0 {
		return sanitizeID(path), ""
	}
	leaf := e.machine.InitialLeaf(path)
	return sanitizeID(leaf), "cluster_" + sanitizeID(path)
}

func (e *DOTExporter[C]) edgeAttrs(label, ltail, lhead string) string {
	var parts []string
	if label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", label))
	}
	if ltail != "" {
		parts = append(parts, fmt.Sprintf("ltail=%q", ltail))
	}
	if lhead != "" {
		parts = append(parts, fmt.Sprintf("lhead=%q", lhead))
	}
	if len(parts) == 0 {
		return ""
	}
	return " [" + strings.Join(parts, ", ") + "]"
}
