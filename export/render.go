package export

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Format identifies an output format
type Format string

const (
	FormatXState  Format = "xstate"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
)

// Formats returns the supported format names, sorted.
func Formats() []string {
	names := []string{string(FormatXState), string(FormatMermaid), string(FormatDOT)}
	sort.Strings(names)
	return names
}

// ExportOptions configures rendering output.
type ExportOptions struct {
	// PrettyPrint enables indented output for formats that distinguish
	// (currently JSON).
	PrettyPrint bool
	// Indent sets the indentation string when PrettyPrint is enabled.
	// Defaults to two spaces.
	Indent string
	// ActivePath highlights the given state path in diagram formats.
	// Ignored by the XState renderer.
	ActivePath string
}

// Renderer is implemented by all exporters in this package.
type Renderer interface {
	Render(opts ExportOptions) ([]byte, error)
}

// Write renders with the given options and writes the result followed by a
// trailing newline. A nil writer defaults to stdout.
func Write(w io.Writer, r Renderer, opts ExportOptions) error {
	if w == nil {
		w = os.Stdout
	}
	data, err := r.Render(opts)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// sanitizeID makes a state path usable as a node identifier in Mermaid and
// DOT sources, which do not accept dots in bare identifiers.
func sanitizeID(path string) string {
	return strings.ReplaceAll(path, ".", "__")
}

// transitionLabel renders "EVENT [g1 && g2] / a1, a2" style edge labels.
func transitionLabel(event string, guard string, actions []string) string {
	var b strings.Builder
	b.WriteString(event)
	if guard != "" {
		b.WriteString(" [")
		b.WriteString(guard)
		b.WriteString("]")
	}
	if len(actions) > 0 {
		b.WriteString(" / ")
		b.WriteString(strings.Join(actions, ", "))
	}
	return b.String()
}
