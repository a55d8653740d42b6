package ir

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationIssue represents a single definition problem
type ValidationIssue struct {
	Code    string   // e.g. "MISSING_INITIAL", "DUPLICATE_STATE"
	Message string   // Human-readable description
	Path    []string // e.g. ["states", "parent.child", "transitions", "0"]
}

// String returns a human-readable representation of the issue
func (v ValidationIssue) String() string {
	if len(v.Path) > 0 {
		return fmt.Sprintf("[%s] %s (at %s)", v.Code, v.Message, strings.Join(v.Path, "."))
	}
	return fmt.Sprintf("[%s] %s", v.Code, v.Message)
}

// ValidationError contains all definition issues found while building a
// machine. A machine with issues never starts.
type ValidationError struct {
	Issues []ValidationIssue
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0].String()
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("validation failed with %d issues:\n", len(e.Issues)))
	for i, issue := range e.Issues {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, issue.String()))
	}
	return b.String()
}

// AddIssue adds a validation issue to the error
func (e *ValidationError) AddIssue(code, message string, path ...string) {
	e.Issues = append(e.Issues, ValidationIssue{
		Code:    code,
		Message: message,
		Path:    path,
	})
}

// HasIssues returns true if there are any validation issues
func (e *ValidationError) HasIssues() bool {
	return len(e.Issues) > 0
}

// Validation error codes
const (
	ErrCodeMissingInitial         = "MISSING_INITIAL"
	ErrCodeInitialNotFound        = "INITIAL_NOT_FOUND"
	ErrCodeMissingAction          = "MISSING_ACTION"
	ErrCodeMissingGuard           = "MISSING_GUARD"
	ErrCodeNoStates               = "NO_STATES"
	ErrCodeDuplicateState         = "DUPLICATE_STATE"
	ErrCodeCompoundMissingInitial = "COMPOUND_MISSING_INITIAL"
	ErrCodeCompoundInvalidInitial = "COMPOUND_INVALID_INITIAL"
	ErrCodeInvalidParent          = "INVALID_PARENT"
	ErrCodeInvalidChild           = "INVALID_CHILD"
	ErrCodeInvalidHistoryLimit    = "INVALID_HISTORY_LIMIT"
)

// Validate checks the machine configuration for definition errors.
// Action and guard registry names are resolved by the builder before this
// runs, so unresolved names surface there; Validate covers the tree shape.
func Validate[C any](m *MachineConfig[C]) *ValidationError {
	errs := &ValidationError{}

	if m.Initial == "" {
		errs.AddIssue(ErrCodeMissingInitial, "initial state is required")
	}
	if len(m.States) == 0 {
		errs.AddIssue(ErrCodeNoStates, "at least one state is required")
	}
	if m.HistoryLimit < 1 {
		errs.AddIssue(ErrCodeInvalidHistoryLimit,
			fmt.Sprintf("history limit must be at least 1, got %d", m.HistoryLimit))
	}

	if m.Initial != "" && len(m.States) > 0 {
		if m.State(m.Initial) == nil {
			errs.AddIssue(ErrCodeInitialNotFound,
				fmt.Sprintf("initial state %q is not a root state", m.Initial))
		}
	}

	// Root-level IDs must be unique among themselves.
	checkSiblingIDs(errs, "", m.Roots)

	// Deterministic iteration keeps multi-issue errors stable.
	paths := make([]string, 0, len(m.States))
	for p := range m.States {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		state := m.States[path]
		statePath := []string{"states", path}

		if state.Type == StateTypeCompound {
			if state.Initial == "" {
				errs.AddIssue(ErrCodeCompoundMissingInitial,
					fmt.Sprintf("compound state %q must designate an initial child", path),
					statePath...)
			} else if !containsID(state.Children, state.Initial) {
				errs.AddIssue(ErrCodeCompoundInvalidInitial,
					fmt.Sprintf("initial child %q is not a child of compound state %q", state.Initial, path),
					statePath...)
			}

			checkSiblingIDs(errs, path, state.Children)

			for i, childID := range state.Children {
				child := m.State(JoinPath(path, childID))
				if child == nil {
					errs.AddIssue(ErrCodeInvalidChild,
						fmt.Sprintf("child state %q not found", childID),
						append(statePath, "children", fmt.Sprintf("%d", i))...)
				} else if child.Parent != path {
					errs.AddIssue(ErrCodeInvalidChild,
						fmt.Sprintf("child state %q has parent %q, expected %q", childID, child.Parent, path),
						append(statePath, "children", fmt.Sprintf("%d", i))...)
				}
			}
		}

		if state.Parent != "" {
			parent := m.State(state.Parent)
			if parent == nil {
				errs.AddIssue(ErrCodeInvalidParent,
					fmt.Sprintf("parent state %q not found", state.Parent),
					statePath...)
			} else if parent.Type != StateTypeCompound {
				errs.AddIssue(ErrCodeInvalidParent,
					fmt.Sprintf("parent state %q is not a compound state", state.Parent),
					statePath...)
			}
		}

		checkRefs(errs, state.Entry, append(statePath, "entry"))
		checkRefs(errs, state.Exit, append(statePath, "exit"))

		for event, transitions := range state.Handlers {
			for i, trans := range transitions {
				transPath := append(statePath, "on", string(event), fmt.Sprintf("%d", i))
				checkTransition(errs, trans, transPath)
			}
		}
	}

	for event, transitions := range m.Globals {
		for i, trans := range transitions {
			transPath := []string{"on", string(event), fmt.Sprintf("%d", i)}
			checkTransition(errs, trans, transPath)
		}
	}

	if errs.HasIssues() {
		return errs
	}
	return nil
}

// checkTransition verifies that build-time resolution left no dangling refs.
// Textual targets are deliberately not validated here: an unresolvable
// target is a runtime "no transition", not a definition error.
func checkTransition[C any](errs *ValidationError, t *TransitionConfig[C], path []string) {
	for i, g := range t.Guards {
		if g.Fn == nil {
			errs.AddIssue(ErrCodeMissingGuard,
				fmt.Sprintf("guard %q is not defined", g.Name),
				append(path, "guards", fmt.Sprintf("%d", i))...)
		}
	}
	checkRefs(errs, t.Actions, append(path, "actions"))
	checkRefs(errs, t.Fire, append(path, "fire"))
}

func checkRefs[C any](errs *ValidationError, refs []ActionRef[C], path []string) {
	for i, ref := range refs {
		if ref.Fn == nil {
			errs.AddIssue(ErrCodeMissingAction,
				fmt.Sprintf("action %q is not defined", ref.Name),
				append(path, fmt.Sprintf("%d", i))...)
		}
	}
}

func checkSiblingIDs(errs *ValidationError, parentPath string, ids []string) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			scope := "root level"
			if parentPath != "" {
				scope = fmt.Sprintf("state %q", parentPath)
			}
			errs.AddIssue(ErrCodeDuplicateState,
				fmt.Sprintf("duplicate sibling id %q at %s", id, scope))
		}
		seen[id] = true
	}
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
