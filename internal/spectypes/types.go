// Package spectypes builds and queries the type context: the mapping
// from identifier to (kind, enum name) that the type checker and
// evaluator both consult (spec §3 "Type context").
package spectypes

import (
	"fmt"

	"github.com/ptltl/monitor/internal/specast"
)

// Kind is a variable's value domain.
type Kind int

const (
	BOOL Kind = iota
	INT
	ENUM
)

func (k Kind) String() string {
	switch k {
	case BOOL:
		return "bool"
	case INT:
		return "int"
	case ENUM:
		return "enum"
	default:
		return "?"
	}
}

// Entry is one identifier's resolved type.
type Entry struct {
	Kind     Kind
	EnumName string // only meaningful when Kind == ENUM
}

// Context is the frozen identifier -> Entry mapping built from a Spec's
// type annotations, plus the reverse mapping from enum value name to its
// owning enum (duplicate enum value names across enums are forbidden).
type Context struct {
	vars         map[string]Entry
	enumTypeName map[string]bool // ann.Name slots, not member values
}

// BuildError reports a type-context construction failure: duplicate
// declarations, or a declaration that collides with reserved names.
type BuildError struct {
	Msg string
}

func (e *BuildError) Error() string { return e.Msg }

// Build constructs a Context from spec's type annotations. true/false
// are pre-seeded as reserved BOOL identifiers (spec §3) and may not be
// redeclared; enum value names occupy a single global namespace.
func Build(spec *specast.Spec) (*Context, error) {
	ctx := &Context{
		vars: map[string]Entry{
			"true":  {Kind: BOOL},
			"false": {Kind: BOOL},
		},
		enumTypeName: map[string]bool{},
	}

	declaredTypeNames := map[string]bool{}

	for _, ann := range spec.Annotations {
		if ann.Name == "true" || ann.Name == "false" {
			return nil, &BuildError{fmt.Sprintf("%q is reserved and cannot be declared", ann.Name)}
		}
		if declaredTypeNames[ann.Name] {
			return nil, &BuildError{fmt.Sprintf("duplicate type name %q", ann.Name)}
		}

		switch ann.Kind {
		case specast.TKEnum:
			declaredTypeNames[ann.Name] = true
			// The enum type name is itself usable as an identifier (the
			// "current value" slot adapters bind via add_label), distinct
			// from its member values but sharing their (ENUM, ann.Name) type.
			ctx.vars[ann.Name] = Entry{Kind: ENUM, EnumName: ann.Name}
			ctx.enumTypeName[ann.Name] = true
			seen := map[string]bool{}
			for _, v := range ann.EnumValues {
				if seen[v] {
					return nil, &BuildError{fmt.Sprintf("enum %q declares %q twice", ann.Name, v)}
				}
				seen[v] = true
				if v == "true" || v == "false" {
					return nil, &BuildError{fmt.Sprintf("enum value %q collides with reserved identifier", v)}
				}
				if existing, ok := ctx.vars[v]; ok {
					return nil, &BuildError{fmt.Sprintf("enum value %q declared in both %q and %q", v, existing.EnumName, ann.Name)}
				}
				ctx.vars[v] = Entry{Kind: ENUM, EnumName: ann.Name}
			}
		case specast.TKIntType:
			declaredTypeNames[ann.Name] = true
			if _, exists := ctx.vars[ann.Name]; exists {
				return nil, &BuildError{fmt.Sprintf("identifier %q declared twice", ann.Name)}
			}
			ctx.vars[ann.Name] = Entry{Kind: INT}
		case specast.TKBoolType:
			declaredTypeNames[ann.Name] = true
			if _, exists := ctx.vars[ann.Name]; exists {
				return nil, &BuildError{fmt.Sprintf("identifier %q declared twice", ann.Name)}
			}
			ctx.vars[ann.Name] = Entry{Kind: BOOL}
		}
	}

	return ctx, nil
}

// Lookup returns the Entry for name and whether it exists.
func (c *Context) Lookup(name string) (Entry, bool) {
	e, ok := c.vars[name]
	return e, ok
}

// EnumValues returns every enum *member* identifier (excluding the enum
// type-name slots, which hold adapter-assigned values rather than
// self-bindings), for State's constructor to pre-seed self-bindings from.
func (c *Context) EnumValues() map[string]string {
	out := make(map[string]string)
	for name, e := range c.vars {
		if e.Kind == ENUM && !c.enumTypeName[name] {
			out[name] = e.EnumName
		}
	}
	return out
}

// IsEnumTypeName reports whether name is an enum type-name slot (as
// opposed to one of its member values).
func (c *Context) IsEnumTypeName(name string) bool {
	return c.enumTypeName[name]
}
