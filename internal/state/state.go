// Package state implements the per-event labeling function (spec §4.5):
// a map from variable name to value string, sanity-checked against the
// frozen type context.
package state

import (
	"fmt"

	"github.com/ptltl/monitor/internal/spectypes"
)

// DuplicateLabelError is returned by AddLabel when name is already bound
// in this State.
type DuplicateLabelError struct{ Name string }

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("label %q already set for this event", e.Name)
}

// UnknownVariableError is returned by GetLabel when name has no binding.
type UnknownVariableError struct{ Name string }

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("no label bound for variable %q", e.Name)
}

// State is the labeling function for a single event: variable name ->
// value string. A fresh State is built per event; nothing carries over
// from the previous one except the enum self-bindings, which are
// reseeded identically every time.
type State struct {
	labels map[string]string
}

// New constructs a State pre-seeded with enum value self-bindings
// (so "request == c2s_ClientHello" can resolve ClientHello's own value
// via resolve_str without an explicit add_label call).
func New(ctx *spectypes.Context) *State {
	s := &State{labels: make(map[string]string)}
	for name := range ctx.EnumValues() {
		s.labels[name] = name
	}
	return s
}

// AddLabel binds name to value for this event.
func (s *State) AddLabel(name, value string) error {
	if _, exists := s.labels[name]; exists {
		return &DuplicateLabelError{Name: name}
	}
	s.labels[name] = value
	return nil
}

// GetLabel returns the bound value for name.
func (s *State) GetLabel(name string) (string, error) {
	v, ok := s.labels[name]
	if !ok {
		return "", &UnknownVariableError{Name: name}
	}
	return v, nil
}

// IsSane reports whether every binding in this State is compatible with
// ctx: ENUM values must be a known value of the right enum, BOOL values
// must be "true"/"false", INT values must parse as signed decimals.
func (s *State) IsSane(ctx *spectypes.Context) bool {
	for name, value := range s.labels {
		entry, ok := ctx.Lookup(name)
		if !ok {
			return false
		}
		switch entry.Kind {
		case spectypes.BOOL:
			if value != "true" && value != "false" {
				return false
			}
		case spectypes.ENUM:
			valEntry, ok := ctx.Lookup(value)
			if !ok || valEntry.Kind != spectypes.ENUM || valEntry.EnumName != entry.EnumName {
				return false
			}
		case spectypes.INT:
			if !isSignedDecimal(value) {
				return false
			}
		}
	}
	return true
}

func isSignedDecimal(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' || s[0] == '+' {
		i++
	}
	if i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
