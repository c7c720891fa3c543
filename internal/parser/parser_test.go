package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ptltl/monitor/internal/specast"
)

func TestParseTypeAnnotationsAndFormula(t *testing.T) {
	spec, err := Parse(`
enum Color { RED, GREEN };
int_type n;
bool_type flag;
(flag S (n > 0));
`)
	require.NoError(t, err)
	require.Len(t, spec.Annotations, 3)
	require.Equal(t, specast.TKEnum, spec.Annotations[0].Kind)
	require.Equal(t, []string{"RED", "GREEN"}, spec.Annotations[0].EnumValues)
	require.Len(t, spec.Formulas, 1)
	require.Equal(t, "flag S n > 0;", spec.Formulas[0].String()+";")
}

func TestArrowIsRightAssociative(t *testing.T) {
	spec, err := Parse(`bool_type a; bool_type b; bool_type c; a -> b -> c;`)
	require.NoError(t, err)
	f := spec.Formulas[0]
	require.Equal(t, specast.KArrow, f.Kind)
	require.Equal(t, "a", f.Left.Name)
	require.Equal(t, specast.KArrow, f.Right.Kind)
}

func TestSinceIsLeftAssociative(t *testing.T) {
	spec, err := Parse(`bool_type a; bool_type b; bool_type c; a S b S c;`)
	require.NoError(t, err)
	f := spec.Formulas[0]
	require.Equal(t, specast.KSince, f.Kind)
	require.Equal(t, specast.KSince, f.Left.Kind)
	require.Equal(t, "c", f.Right.Name)
}

func TestUnaryOperatorsStack(t *testing.T) {
	spec, err := Parse(`bool_type a; O H a;`)
	require.NoError(t, err)
	f := spec.Formulas[0]
	require.Equal(t, specast.KO, f.Kind)
	require.Equal(t, specast.KH, f.Left.Kind)
	require.Equal(t, specast.KIdent, f.Left.Left.Kind)
}

func TestComparisonBindsTighterThanAndOr(t *testing.T) {
	spec, err := Parse(`int_type n; bool_type flag; n > 0 & flag;`)
	require.NoError(t, err)
	f := spec.Formulas[0]
	require.Equal(t, specast.KAnd, f.Kind)
	require.Equal(t, specast.KGt, f.Left.Kind)
}

func TestIntLiteralOnLeftOfComparisonIsPermitted(t *testing.T) {
	spec, err := Parse(`3 == 3;`)
	require.NoError(t, err)
	f := spec.Formulas[0]
	require.Equal(t, specast.KEq, f.Kind)
	require.Equal(t, specast.KIntLit, f.Left.Kind)
}

func TestMissingSemicolonIsSyntaxError(t *testing.T) {
	_, err := Parse(`bool_type a; a`)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
}

func TestEmptySpecIsError(t *testing.T) {
	_, err := Parse(``)
	require.Error(t, err)
}

func TestSpecWithNoFormulasIsError(t *testing.T) {
	_, err := Parse(`bool_type a;`)
	require.Error(t, err)
}

func TestUnterminatedParenIsSyntaxError(t *testing.T) {
	_, err := Parse(`bool_type a; (a;`)
	require.Error(t, err)
}

func TestLexicalErrorPropagatesAsParserError(t *testing.T) {
	_, err := Parse(`bool_type a; a = b;`)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
}
