package specast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringRendersOperatorsWithParensOnlyWhereNeeded(t *testing.T) {
	f := Binary(KAnd, Ident("a", Position{}), Unary(KNot, Ident("b", Position{}), Position{}), Position{})
	require.Equal(t, "a & !b", f.String())
}

func TestStringParenthesizesNestedBinary(t *testing.T) {
	since := Binary(KSince, Ident("a", Position{}), Ident("b", Position{}), Position{})
	arrow := Binary(KArrow, since, Ident("c", Position{}), Position{})
	require.Equal(t, "(a S b) -> c", arrow.String())
}

func TestStringOnComparisonHasNoParens(t *testing.T) {
	cmp := Binary(KEq, Ident("x", Position{}), IntLit(3, Position{}), Position{})
	wrapped := Binary(KAnd, cmp, Ident("y", Position{}), Position{})
	require.Equal(t, "x == 3 & y", wrapped.String())
}

func TestWalkVisitsEveryNodePreOrder(t *testing.T) {
	f := Binary(KAnd, Ident("a", Position{}), Unary(KNot, Ident("b", Position{}), Position{}), Position{})
	var kinds []Kind
	Walk(f, func(n *Node) { kinds = append(kinds, n.Kind) })
	require.Equal(t, []Kind{KAnd, KIdent, KNot, KIdent}, kinds)
}

func TestFormulaStringOutOfRangeIsInvalid(t *testing.T) {
	spec := &Spec{Formulas: []*Node{Ident("a", Position{})}}
	require.Equal(t, "a;", spec.FormulaString(0))
	require.Equal(t, "<invalid>", spec.FormulaString(1))
	require.Equal(t, "<invalid>", spec.FormulaString(-1))
}

func TestTypeAnnotationStringForms(t *testing.T) {
	require.Equal(t, "enum Color { RED, GREEN };", TypeAnnotation{Kind: TKEnum, Name: "Color", EnumValues: []string{"RED", "GREEN"}}.String())
	require.Equal(t, "int_type x;", TypeAnnotation{Kind: TKIntType, Name: "x"}.String())
	require.Equal(t, "bool_type y;", TypeAnnotation{Kind: TKBoolType, Name: "y"}.String())
}

func TestIsUnaryAndIsLeaf(t *testing.T) {
	require.True(t, KNot.IsUnary())
	require.False(t, KAnd.IsUnary())
	require.True(t, KIdent.IsLeaf())
	require.False(t, KSince.IsLeaf())
}
