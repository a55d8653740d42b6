package statecraft

import (
	"github.com/avigley/statecraft/internal/ir"
)

// resolvedTransition is the outcome of a successful handler search
type resolvedTransition[C any] struct {
	transition *ir.TransitionConfig[C]
	// targetLeaf is the resolved target descended to its initial leaf;
	// empty for internal transitions.
	targetLeaf string
}

// resolveEvent searches for a matching transition: the active leaf first,
// then each ancestor in turn (bubbling), then the machine-level handlers as
// a level above the root. Within one level, exact handlers are tried in
// declaration order before the level's wildcard entry. The first descriptor
// whose guard chain passes and whose target resolves wins; local strictly
// outranks parent, which strictly outranks global.
func resolveEvent[C any](m *ir.MachineConfig[C], activePath string, ctx C, event Event) *resolvedTransition[C] {
	levels := append([]string{activePath}, m.Ancestors(activePath)...)
	for _, path := range levels {
		state := m.State(path)
		if state == nil {
			continue
		}
		if match := tryCandidates(m, state.HandlersFor(event.Type), ctx, event); match != nil {
			return match
		}
	}
	return tryCandidates(m, m.GlobalHandlersFor(event.Type), ctx, event)
}

// tryCandidates evaluates one level's descriptor list in declaration order.
// A descriptor is skipped when its guard chain fails or its target does not
// resolve; the search then continues with the next candidate.
func tryCandidates[C any](m *ir.MachineConfig[C], candidates []*ir.TransitionConfig[C], ctx C, event Event) *resolvedTransition[C] {
	for _, t := range candidates {
		if !guardsPass(t.Guards, ctx, event) {
			continue
		}
		if t.IsInternal() {
			return &resolvedTransition[C]{transition: t}
		}
		ref := t.Target.Ref
		if t.Target.Fn != nil {
			ref = safeTarget(t.Target.Fn, ctx, event)
		}
		target := m.Resolve(t.Source, ref)
		if target == nil {
			continue // unresolvable target: no transition, keep searching
		}
		return &resolvedTransition[C]{
			transition: t,
			targetLeaf: m.InitialLeaf(target.Path),
		}
	}
	return nil
}

// guardsPass evaluates a guard chain left-to-right, short-circuiting on the
// first failure. An empty chain always passes; a guard that returns an
// error or panics counts as failed.
func guardsPass[C any](guards []ir.GuardRef[C], ctx C, event Event) bool {
	for _, g := range guards {
		if !safeGuard(g, ctx, event) {
			return false
		}
	}
	return true
}

func safeGuard[C any](g ir.GuardRef[C], ctx C, event Event) (pass bool) {
	defer func() {
		if recover() != nil {
			pass = false
		}
	}()
	ok, err := g.Fn(ctx, event)
	return err == nil && ok
}

func safeTarget[C any](fn ir.TargetFunc[C], ctx C, event Event) (ref string) {
	defer func() {
		if recover() != nil {
			ref = "" // resolves to nothing: descriptor is skipped
		}
	}()
	return fn(ctx, event)
}

// exitEntrySets computes the states left and entered by a real transition.
// Exits run leaf outward up to (excluding) the divergence boundary, the
// lowest common ancestor of the current and target leaves; entries run
// boundary inward down to the target leaf, including composites descended
// through their initial children.
func exitEntrySets[C any](m *ir.MachineConfig[C], from, to string) (exit, entry []*ir.StateConfig[C]) {
	lca := ir.LCA(from, to)

	fromChain := ir.PathChain(from)
	for i := len(fromChain) - 1; i >= 0; i-- {
		if fromChain[i] == lca {
			break
		}
		if state := m.State(fromChain[i]); state != nil {
			exit = append(exit, state)
		}
	}

	for _, path := range ir.PathChain(to) {
		if lca != "" && !ir.IsDescendantOf(path, lca) {
			continue
		}
		if state := m.State(path); state != nil {
			entry = append(entry, state)
		}
	}
	return exit, entry
}
