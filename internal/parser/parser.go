// Package parser provides reflection-based parsing for struct-defined
// state machines.
package parser

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// StateSchemaType represents the type of a parsed state.
type StateSchemaType int

const (
	StateSchemaAtomic StateSchemaType = iota
	StateSchemaCompound
	StateSchemaFinal
)

// TransitionSchema represents a parsed transition definition. An empty
// Target marks an internal transition.
type TransitionSchema struct {
	Event   string
	Target  string
	Guards  []string
	Actions []string
	Fire    []string
}

// StateSchema represents a parsed state definition.
type StateSchema struct {
	Name        string
	Type        StateSchemaType
	Initial     string
	Entry       []string
	Exit        []string
	Transitions []TransitionSchema
	Children    []*StateSchema
}

// MachineSchema represents the complete parsed machine definition.
type MachineSchema struct {
	ID           string
	Initial      string
	HistoryLimit int // 0 when the tag is absent
	States       []*StateSchema
}

// Marker type names for detection.
const (
	MarkerMachineDefinition = "MachineDef"
	MarkerState             = "StateNode"
	MarkerCompoundState     = "CompoundNode"
	MarkerFinalState        = "FinalNode"
)

// ParseMachineStruct parses a struct type into a MachineSchema.
// The struct must have an embedded MachineDef marker type.
func ParseMachineStruct(t reflect.Type) (*MachineSchema, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct, got %s", t.Kind())
	}

	schema := &MachineSchema{}

	found := false
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if isMarkerType(field.Type, MarkerMachineDefinition) {
			if err := parseMachineTag(field.Tag, schema); err != nil {
				return nil, fmt.Errorf("invalid machine tag: %w", err)
			}
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("struct must embed statecraft.MachineDef")
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if isMarkerType(field.Type, MarkerMachineDefinition) {
			continue
		}

		state, err := parseStateField(field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if state != nil {
			schema.States = append(schema.States, state)
		}
	}

	return schema, nil
}

// parseStateField parses a struct field into a StateSchema.
func parseStateField(field reflect.StructField) (*StateSchema, error) {
	fieldType := field.Type
	if fieldType.Kind() == reflect.Ptr {
		fieldType = fieldType.Elem()
	}

	if fieldType.Kind() == reflect.Struct {
		markerType, hasMarker := findEmbeddedMarker(fieldType)
		if hasMarker {
			return parseStateStruct(field.Name, fieldType, markerType, field.Tag)
		}

		if isMarkerType(fieldType, MarkerState) {
			return parseTaggedState(field.Name, StateSchemaAtomic, field.Tag)
		}
		if isMarkerType(fieldType, MarkerCompoundState) {
			return parseTaggedState(field.Name, StateSchemaCompound, field.Tag)
		}
		if isMarkerType(fieldType, MarkerFinalState) {
			return parseTaggedState(field.Name, StateSchemaFinal, field.Tag)
		}
	}

	return nil, nil // not a state field
}

// findEmbeddedMarker finds an embedded marker type in a struct.
func findEmbeddedMarker(t reflect.Type) (string, bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.Anonymous {
			continue
		}
		for _, marker := range []string{MarkerState, MarkerCompoundState, MarkerFinalState} {
			if isMarkerType(field.Type, marker) {
				return marker, true
			}
		}
	}
	return "", false
}

// parseStateStruct parses a struct that contains an embedded marker.
func parseStateStruct(name string, t reflect.Type, markerType string, parentTag reflect.StructTag) (*StateSchema, error) {
	var markerTag reflect.StructTag
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && isMarkerType(field.Type, markerType) {
			markerTag = field.Tag
			break
		}
	}

	tag := markerTag
	if tag == "" {
		tag = parentTag
	}

	switch markerType {
	case MarkerState:
		return parseTaggedState(name, StateSchemaAtomic, tag)
	case MarkerCompoundState:
		state, err := parseTaggedState(name, StateSchemaCompound, tag)
		if err != nil {
			return nil, err
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.Anonymous {
				continue // skip the embedded marker
			}
			child, err := parseStateField(field)
			if err != nil {
				return nil, fmt.Errorf("child %s: %w", field.Name, err)
			}
			if child != nil {
				state.Children = append(state.Children, child)
			}
		}
		return state, nil
	case MarkerFinalState:
		return parseTaggedState(name, StateSchemaFinal, tag)
	}

	return nil, fmt.Errorf("unknown marker type: %s", markerType)
}

func parseTaggedState(name string, stateType StateSchemaType, tag reflect.StructTag) (*StateSchema, error) {
	state := &StateSchema{
		Name: toSnakeCase(name),
		Type: stateType,
	}
	if err := parseStateTag(tag, state); err != nil {
		return nil, err
	}
	return state, nil
}

// parseMachineTag parses the machine definition tag.
// Format: `id:"machineId" initial:"stateName" history:"50"`
func parseMachineTag(tag reflect.StructTag, schema *MachineSchema) error {
	schema.ID = tag.Get("id")
	schema.Initial = tag.Get("initial")

	if schema.ID == "" {
		return fmt.Errorf("missing required 'id' tag")
	}
	if schema.Initial == "" {
		return fmt.Errorf("missing required 'initial' tag")
	}

	if history := tag.Get("history"); history != "" {
		limit, err := strconv.Atoi(history)
		if err != nil || limit < 1 {
			return fmt.Errorf("invalid 'history' tag %q", history)
		}
		schema.HistoryLimit = limit
	}

	return nil
}

// parseStateTag parses state-level tags.
// Format: `on:"EVENT->target:guard,EVENT2->target2" entry:"a1,a2" exit:"a3" initial:"child"`
func parseStateTag(tag reflect.StructTag, state *StateSchema) error {
	if initial := tag.Get("initial"); initial != "" {
		state.Initial = initial
	}
	if entry := tag.Get("entry"); entry != "" {
		state.Entry = splitTrim(entry, ",")
	}
	if exit := tag.Get("exit"); exit != "" {
		state.Exit = splitTrim(exit, ",")
	}

	if on := tag.Get("on"); on != "" {
		transitions, err := parseTransitions(on)
		if err != nil {
			return fmt.Errorf("invalid 'on' tag: %w", err)
		}
		state.Transitions = transitions
	}

	return nil
}

// parseTransitions parses a comma-separated transition list.
func parseTransitions(s string) ([]TransitionSchema, error) {
	var transitions []TransitionSchema

	parts := splitTrim(s, ",")
	for i, part := range parts {
		trans, err := parseTransition(part)
		if err != nil {
			return nil, fmt.Errorf("transition %d: %w", i+1, err)
		}
		transitions = append(transitions, trans)
	}

	return transitions, nil
}

// parseTransition parses a single transition of the form
//
//	EVENT->target[/action1;action2][!fire1;fire2][:guard1&guard2]
//
// The target may be a sibling name, a dot path, or a caret reference such
// as "^.sibling". A target of "." declares an internal transition. The
// event "*" declares the level's wildcard handler.
func parseTransition(s string) (TransitionSchema, error) {
	trans := TransitionSchema{}

	arrowIdx := strings.Index(s, "->")
	if arrowIdx == -1 {
		return trans, fmt.Errorf("missing '->' in transition: %s", s)
	}

	trans.Event = strings.TrimSpace(s[:arrowIdx])
	rest := strings.TrimSpace(s[arrowIdx+2:])

	if trans.Event == "" {
		return trans, fmt.Errorf("empty event in transition: %s", s)
	}

	if colonIdx := strings.LastIndex(rest, ":"); colonIdx != -1 {
		trans.Guards = splitTrim(rest[colonIdx+1:], "&")
		rest = rest[:colonIdx]
	}
	if bangIdx := strings.Index(rest, "!"); bangIdx != -1 {
		trans.Fire = splitTrim(rest[bangIdx+1:], ";")
		rest = rest[:bangIdx]
	}
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		trans.Actions = splitTrim(rest[slashIdx+1:], ";")
		rest = rest[:slashIdx]
	}

	trans.Target = strings.TrimSpace(rest)
	if trans.Target == "" {
		return trans, fmt.Errorf("empty target in transition: %s (use '.' for an internal transition)", s)
	}
	if trans.Target == "." {
		trans.Target = "" // internal transition
	}

	return trans, nil
}

// isMarkerType checks if a type matches a marker type name.
func isMarkerType(t reflect.Type, markerName string) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name() == markerName
}

// toSnakeCase converts CamelCase to snake_case.
// Handles acronyms: HTTPServer -> http_server, APIGateway -> api_gateway.
func toSnakeCase(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder
	result.Grow(len(s) + 5)

	for i, r := range runes {
		isUpper := r >= 'A' && r <= 'Z'

		if i > 0 && isUpper {
			prevIsLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextIsLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevIsLower || nextIsLower {
				result.WriteByte('_')
			}
		}

		if isUpper {
			result.WriteRune(r + 32)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// splitTrim splits a string and trims whitespace from each part.
func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
