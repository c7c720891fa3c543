package typecheck

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ptltl/monitor/internal/parser"
)

func TestCheckAcceptsWellTypedFormula(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; bool_type b; (a S b);`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.NoError(t, err)
}

func TestCheckRejectsNonBoolTopLevelFormula(t *testing.T) {
	spec, err := parser.Parse(`int_type n; n;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 0, terr.FormulaIndex)
}

func TestCheckRejectsUndeclaredIdentifier(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; a & b;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
}

func TestCheckRejectsAndOverIntOperand(t *testing.T) {
	spec, err := parser.Parse(`int_type n; bool_type flag; flag & n;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
}

func TestCheckRejectsComparisonBetweenDifferentEnums(t *testing.T) {
	spec, err := parser.Parse(`enum A { A1 }; enum B { B1 }; A == B;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
}

func TestCheckAcceptsEnumEqualityWithinSameEnum(t *testing.T) {
	spec, err := parser.Parse(`enum Color { RED, GREEN }; Color == RED;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.NoError(t, err)
}

func TestCheckRejectsOrderComparisonOnNonInt(t *testing.T) {
	spec, err := parser.Parse(`bool_type flag; flag > flag;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
}

func TestCheckAcceptsTwoIntLiteralComparison(t *testing.T) {
	spec, err := parser.Parse(`3 == 3;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.NoError(t, err)
}

func TestCheckRejectsYOHOverNonBool(t *testing.T) {
	spec, err := parser.Parse(`int_type n; O n;`)
	require.NoError(t, err)
	_, err = Check(spec)
	require.Error(t, err)
}
