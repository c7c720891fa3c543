package preprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ptltl/monitor/internal/parser"
	"github.com/ptltl/monitor/internal/specast"
)

func TestRunAssignsPreOrderSerials(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; bool_type b; a & !b;`)
	require.NoError(t, err)
	Run(spec)

	f := spec.Formulas[0]
	require.Equal(t, 0, f.Serial)       // KAnd
	require.Equal(t, 1, f.Left.Serial)  // a
	require.Equal(t, 2, f.Right.Serial) // !b
	require.Equal(t, 3, f.Right.Left.Serial)
}

func TestRunFillsTreeSizesPerFormula(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; a; !a;`)
	require.NoError(t, err)
	Run(spec)

	require.Equal(t, []int{1, 2}, spec.TreeSizes)
}

func TestRunIsIdempotent(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; bool_type b; (a S b);`)
	require.NoError(t, err)
	Run(spec)
	first := spec.Formulas[0].Serial
	Run(spec)
	require.Equal(t, first, spec.Formulas[0].Serial)
}

func TestEverySerialIsUniqueWithinAFormula(t *testing.T) {
	spec, err := parser.Parse(`bool_type a; bool_type b; ((a S b) -> (!a & b));`)
	require.NoError(t, err)
	Run(spec)

	seen := map[int]bool{}
	specast.Walk(spec.Formulas[0], func(n *specast.Node) {
		require.False(t, seen[n.Serial], "duplicate serial %d", n.Serial)
		seen[n.Serial] = true
	})
}
