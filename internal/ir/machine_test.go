package ir

import (
	"reflect"
	"testing"
)

// buildTree constructs the tree used throughout these tests:
//
//	machine "m"
//	├── a (initial, compound, initial=b)
//	│   ├── b
//	│   └── c (compound, initial=d)
//	│       ├── d
//	│       └── e
//	└── x
func buildTree(t *testing.T) *MachineConfig[struct{}] {
	t.Helper()
	m := NewMachineConfig("m", "a", struct{}{})
	m.HistoryLimit = 10
	m.Roots = []string{"a", "x"}

	add := func(id, path string, typ StateType, parent, initial string, children ...string) {
		s := NewStateConfig[struct{}](id, path, typ)
		s.Parent = parent
		s.Initial = initial
		s.Children = children
		m.States[path] = s
	}
	add("a", "a", StateTypeCompound, "", "b", "b", "c")
	add("b", "a.b", StateTypeAtomic, "a", "")
	add("c", "a.c", StateTypeCompound, "a", "d", "d", "e")
	add("d", "a.c.d", StateTypeAtomic, "a.c", "")
	add("e", "a.c.e", StateTypeAtomic, "a.c", "")
	add("x", "x", StateTypeAtomic, "", "")
	return m
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("", "a"); got != "a" {
		t.Errorf("JoinPath(\"\", a) = %q", got)
	}
	if got := JoinPath("a.b", "c"); got != "a.b.c" {
		t.Errorf("JoinPath(a.b, c) = %q", got)
	}
}

func TestPathChain(t *testing.T) {
	got := PathChain("a.b.c")
	want := []string{"a", "a.b", "a.b.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PathChain(a.b.c) = %v, want %v", got, want)
	}
	if PathChain("") != nil {
		t.Error("PathChain(\"\") should be nil")
	}
}

func TestLCA(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"a.b", "a.c.d", "a"},
		{"a.c.d", "a.c.e", "a.c"},
		{"a.b", "x", ""},
		// One path contains the other: a state is not its own ancestor,
		// so the boundary is the parent of the shorter path.
		{"a.c", "a.c.d", "a"},
		{"a.c.d", "a.c", "a"},
		{"a", "a.b", ""},
		{"a.b", "a.b", "a"},
	}
	for _, tt := range tests {
		if got := LCA(tt.a, tt.b); got != tt.want {
			t.Errorf("LCA(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsDescendantOf(t *testing.T) {
	if !IsDescendantOf("a.c.d", "a") {
		t.Error("a.c.d should be a descendant of a")
	}
	if IsDescendantOf("a", "a") {
		t.Error("a state is not its own descendant")
	}
	if IsDescendantOf("ab.c", "a") {
		t.Error("prefix match must respect segment boundaries")
	}
}

func TestAncestors(t *testing.T) {
	m := buildTree(t)
	got := m.Ancestors("a.c.d")
	want := []string{"a.c", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Ancestors(a.c.d) = %v, want %v", got, want)
	}
	if m.Ancestors("x") != nil {
		t.Error("root state has no ancestors")
	}
}

func TestInitialLeaf(t *testing.T) {
	m := buildTree(t)
	if got := m.InitialLeaf("a"); got != "a.b" {
		t.Errorf("InitialLeaf(a) = %q, want a.b", got)
	}
	if got := m.InitialLeaf("a.c"); got != "a.c.d" {
		t.Errorf("InitialLeaf(a.c) = %q, want a.c.d", got)
	}
	if got := m.InitialLeaf("x"); got != "x" {
		t.Errorf("InitialLeaf(x) = %q, want x", got)
	}
}

func TestResolve_Siblings(t *testing.T) {
	m := buildTree(t)

	// Sibling of a nested state.
	if got := m.Resolve("a.c.d", "e"); got == nil || got.Path != "a.c.e" {
		t.Errorf("Resolve(a.c.d, e) = %v, want a.c.e", got)
	}
	// Sibling at root level.
	if got := m.Resolve("a", "x"); got == nil || got.Path != "x" {
		t.Errorf("Resolve(a, x) = %v, want x", got)
	}
	// Machine-level handlers resolve against the root scope.
	if got := m.Resolve("", "a"); got == nil || got.Path != "a" {
		t.Errorf("Resolve(\"\", a) = %v, want a", got)
	}
	// Sibling path descending into a compound sibling.
	if got := m.Resolve("a.b", "c.e"); got == nil || got.Path != "a.c.e" {
		t.Errorf("Resolve(a.b, c.e) = %v, want a.c.e", got)
	}
}

func TestResolve_AncestorAnchored(t *testing.T) {
	m := buildTree(t)

	// Anchored at an ancestor's ID.
	if got := m.Resolve("a.c.d", "a.b"); got == nil || got.Path != "a.b" {
		t.Errorf("Resolve(a.c.d, a.b) = %v, want a.b", got)
	}
	// Anchored at the declaring state itself.
	if got := m.Resolve("a.c", "c.e"); got == nil || got.Path != "a.c.e" {
		t.Errorf("Resolve(a.c, c.e) = %v, want a.c.e", got)
	}
}

func TestResolve_MachineAnchored(t *testing.T) {
	m := buildTree(t)
	if got := m.Resolve("a.c.d", "m.a.b"); got == nil || got.Path != "a.b" {
		t.Errorf("Resolve(a.c.d, m.a.b) = %v, want a.b", got)
	}
	if got := m.Resolve("x", "m.a.c.e"); got == nil || got.Path != "a.c.e" {
		t.Errorf("Resolve(x, m.a.c.e) = %v, want a.c.e", got)
	}
}

func TestResolve_Caret(t *testing.T) {
	m := buildTree(t)

	// Single caret: the parent.
	if got := m.Resolve("a.c.d", "^"); got == nil || got.Path != "a.c" {
		t.Errorf("Resolve(a.c.d, ^) = %v, want a.c", got)
	}
	// Caret with a descent: the current state's sibling.
	if got := m.Resolve("a.c.d", "^.e"); got == nil || got.Path != "a.c.e" {
		t.Errorf("Resolve(a.c.d, ^.e) = %v, want a.c.e", got)
	}
	// Two carets climb two levels.
	if got := m.Resolve("a.c.d", "^^.b"); got == nil || got.Path != "a.b" {
		t.Errorf("Resolve(a.c.d, ^^.b) = %v, want a.b", got)
	}
	// Climbing past the root fails.
	if got := m.Resolve("a.b", "^^"); got != nil {
		t.Errorf("Resolve(a.b, ^^) = %v, want nil", got)
	}
	// Malformed: text immediately after the caret.
	if got := m.Resolve("a.c.d", "^e"); got != nil {
		t.Errorf("Resolve(a.c.d, ^e) = %v, want nil", got)
	}
}

func TestResolve_Unresolvable(t *testing.T) {
	m := buildTree(t)
	for _, ref := range []string{"", "nope", "a.b.zzz", "m", "a..b", "."} {
		if got := m.Resolve("a.c.d", ref); got != nil {
			t.Errorf("Resolve(a.c.d, %q) = %v, want nil", ref, got)
		}
	}
}

func TestHandlersFor_WildcardOrdering(t *testing.T) {
	m := buildTree(t)
	s := m.State("a.b")

	exact := &TransitionConfig[struct{}]{Event: "GO", Source: "a.b"}
	wild := &TransitionConfig[struct{}]{Event: Wildcard, Source: "a.b"}
	s.Handlers["GO"] = []*TransitionConfig[struct{}]{exact}
	s.Handlers[Wildcard] = []*TransitionConfig[struct{}]{wild}

	got := s.HandlersFor("GO")
	if len(got) != 2 || got[0] != exact || got[1] != wild {
		t.Errorf("exact handlers must precede the wildcard, got %v", got)
	}

	// An event with no exact handler still reaches the wildcard.
	got = s.HandlersFor("OTHER")
	if len(got) != 1 || got[0] != wild {
		t.Errorf("wildcard should catch unmatched events, got %v", got)
	}
}

func TestTransitionIsInternal(t *testing.T) {
	internal := &TransitionConfig[struct{}]{Event: "E"}
	if !internal.IsInternal() {
		t.Error("transition without a target must be internal")
	}
	external := &TransitionConfig[struct{}]{Event: "E", Target: TargetRef[struct{}]{Ref: "x"}}
	if external.IsInternal() {
		t.Error("transition with a textual target is not internal")
	}
	dynamic := &TransitionConfig[struct{}]{
		Event:  "E",
		Target: TargetRef[struct{}]{Fn: func(struct{}, Event) string { return "x" }},
	}
	if dynamic.IsInternal() {
		t.Error("transition with a dynamic target is not internal")
	}
}
