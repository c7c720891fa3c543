// Package preprocess assigns each formula node a pre-order serial number
// within its owning top-level formula (spec §4.3) and records each
// formula's tree size for evaluator bitvector sizing.
package preprocess

import "github.com/ptltl/monitor/internal/specast"

// Run numbers every node of every formula in spec and fills in
// spec.TreeSizes. It is idempotent: since numbering doesn't depend on
// any serial already present, re-running reassigns the same values.
func Run(spec *specast.Spec) {
	spec.TreeSizes = make([]int, len(spec.Formulas))
	for i, f := range spec.Formulas {
		spec.TreeSizes[i] = numberFormula(f)
	}
}

func numberFormula(root *specast.Node) int {
	counter := 0
	var walk func(n *specast.Node)
	walk = func(n *specast.Node) {
		if n == nil {
			return
		}
		n.Serial = counter
		counter++
		walk(n.Left)
		walk(n.Right)
	}
	walk(root)
	return counter
}
