// Package specast defines the ptLTL specification's abstract syntax tree:
// type annotations and formula nodes, plus their pre-order serial numbers.
package specast

import (
	"fmt"
	"strings"

	"github.com/ptltl/monitor/internal/lexer"
)

// Position re-exports the lexer's source location type so callers of this
// package never need to import lexer directly.
type Position = lexer.Position

// Kind tags every formula-node variant. Treat this as a closed sum type:
// any switch over Kind in this module must be exhaustive, so a new
// operator can't silently fall through unevaluated.
type Kind int

const (
	KIdent Kind = iota
	KIntLit
	KBoolLit

	KNot
	KY
	KO
	KH

	KAnd
	KOr
	KArrow
	KSince

	KEq
	KNeq
	KGt
	KGte
	KLt
	KLte
)

func (k Kind) String() string {
	switch k {
	case KIdent:
		return "ident"
	case KIntLit:
		return "int"
	case KBoolLit:
		return "bool"
	case KNot:
		return "!"
	case KY:
		return "Y"
	case KO:
		return "O"
	case KH:
		return "H"
	case KAnd:
		return "&"
	case KOr:
		return "|"
	case KArrow:
		return "->"
	case KSince:
		return "S"
	case KEq:
		return "=="
	case KNeq:
		return "!="
	case KGt:
		return ">"
	case KGte:
		return ">="
	case KLt:
		return "<"
	case KLte:
		return "<="
	default:
		return "?"
	}
}

// IsUnary reports whether k takes exactly one child (Left).
func (k Kind) IsUnary() bool {
	switch k {
	case KNot, KY, KO, KH:
		return true
	default:
		return false
	}
}

// IsLeaf reports whether k is a leaf (identifier or literal) with no children.
func (k Kind) IsLeaf() bool {
	switch k {
	case KIdent, KIntLit, KBoolLit:
		return true
	default:
		return false
	}
}

// Node is a single AST node. Go has no tagged-union type, so this struct
// plays that role directly: Kind selects which of the value/child fields
// are meaningful, mirroring the teacher's discriminated "kind + slots"
// node shape rather than a deep interface hierarchy.
type Node struct {
	Kind Kind
	Pos  Position

	// Serial is this node's position in its owning formula's pre-order
	// walk, assigned by the preprocessor. -1 until assigned.
	Serial int

	Name      string // KIdent
	IntValue  int64  // KIntLit
	BoolValue bool   // KBoolLit

	Left  *Node // unary operand, binary LHS
	Right *Node // binary RHS
}

// Ident builds a leaf identifier node.
func Ident(name string, pos Position) *Node {
	return &Node{Kind: KIdent, Name: name, Pos: pos, Serial: -1}
}

// IntLit builds a leaf integer-literal node.
func IntLit(v int64, pos Position) *Node {
	return &Node{Kind: KIntLit, IntValue: v, Pos: pos, Serial: -1}
}

// BoolLit builds a leaf boolean-literal node.
func BoolLit(v bool, pos Position) *Node {
	return &Node{Kind: KBoolLit, BoolValue: v, Pos: pos, Serial: -1}
}

// Unary builds a NOT/Y/O/H node over operand.
func Unary(k Kind, operand *Node, pos Position) *Node {
	return &Node{Kind: k, Left: operand, Pos: pos, Serial: -1}
}

// Binary builds an AND/OR/ARROW/S or comparison node over lhs, rhs.
func Binary(k Kind, lhs, rhs *Node, pos Position) *Node {
	return &Node{Kind: k, Left: lhs, Right: rhs, Pos: pos, Serial: -1}
}

// String renders a node as ptLTL source text, used for violation-log
// textual rendering of failed properties.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case KIdent:
		return n.Name
	case KIntLit:
		return fmt.Sprintf("%d", n.IntValue)
	case KBoolLit:
		if n.BoolValue {
			return "true"
		}
		return "false"
	case KNot:
		return "!" + n.Left.String()
	case KY, KO, KH:
		return n.Kind.String() + " " + n.Left.String()
	case KAnd:
		return paren(n.Left) + " & " + paren(n.Right)
	case KOr:
		return paren(n.Left) + " | " + paren(n.Right)
	case KArrow:
		return paren(n.Left) + " -> " + paren(n.Right)
	case KSince:
		return paren(n.Left) + " S " + paren(n.Right)
	case KEq, KNeq, KGt, KGte, KLt, KLte:
		return n.Left.String() + " " + n.Kind.String() + " " + n.Right.String()
	default:
		return "?"
	}
}

func paren(n *Node) string {
	if n == nil {
		return "<nil>"
	}
	if n.Kind.IsLeaf() || n.Kind == KEq || n.Kind == KNeq || n.Kind == KGt || n.Kind == KGte || n.Kind == KLt || n.Kind == KLte {
		return n.String()
	}
	return "(" + n.String() + ")"
}

// TypeKind is a TypeAnnotation's variant tag.
type TypeKind int

const (
	TKEnum TypeKind = iota
	TKIntType
	TKBoolType
)

// TypeAnnotation is one `enum`/`int_type`/`bool_type` declaration.
type TypeAnnotation struct {
	Kind       TypeKind
	Name       string
	EnumValues []string // only meaningful for TKEnum
	Pos        Position
}

// Spec is a fully-parsed specification: its ordered type annotations and
// ordered top-level formulas. Formula index i is the property identifier
// used throughout violation reporting.
type Spec struct {
	Annotations []TypeAnnotation
	Formulas    []*Node

	// TreeSizes[i] is the serial-number range width ([0, TreeSizes[i]))
	// of Formulas[i], filled in by the preprocessor.
	TreeSizes []int
}

// FormulaString renders spec.Formulas[i] as source text, or "<invalid>"
// if i is out of range.
func (s *Spec) FormulaString(i int) string {
	if i < 0 || i >= len(s.Formulas) {
		return "<invalid>"
	}
	return s.Formulas[i].String() + ";"
}

// Walk invokes visit on n and every descendant in pre-order.
func Walk(n *Node, visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	Walk(n.Left, visit)
	Walk(n.Right, visit)
}

func (ta TypeAnnotation) String() string {
	switch ta.Kind {
	case TKEnum:
		return fmt.Sprintf("enum %s { %s };", ta.Name, strings.Join(ta.EnumValues, ", "))
	case TKIntType:
		return fmt.Sprintf("int_type %s;", ta.Name)
	case TKBoolType:
		return fmt.Sprintf("bool_type %s;", ta.Name)
	default:
		return "?"
	}
}
