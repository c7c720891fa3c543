// Package typecheck assigns and verifies types for a parsed ptLTL Spec
// (spec §4.2).
package typecheck

import (
	"fmt"

	"github.com/ptltl/monitor/internal/specast"
	"github.com/ptltl/monitor/internal/spectypes"
)

// Error reports a type error in a specific top-level formula.
type Error struct {
	FormulaIndex int
	Reason       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("formula %d: %s", e.FormulaIndex, e.Reason)
}

// Check builds the type context from spec's annotations and verifies
// every top-level formula types to BOOL. Returns the frozen Context on
// success, for the evaluator and State to share.
func Check(spec *specast.Spec) (*spectypes.Context, error) {
	ctx, err := spectypes.Build(spec)
	if err != nil {
		return nil, &Error{FormulaIndex: -1, Reason: err.Error()}
	}

	for i, f := range spec.Formulas {
		kind, _, err := infer(ctx, f)
		if err != nil {
			return nil, &Error{FormulaIndex: i, Reason: err.Error()}
		}
		if kind != spectypes.BOOL {
			return nil, &Error{FormulaIndex: i, Reason: fmt.Sprintf("top-level formula must be bool, got %s", kind)}
		}
	}
	return ctx, nil
}

// infer returns the (kind, enumName) of n, or an error describing why n
// is ill-typed.
func infer(ctx *spectypes.Context, n *specast.Node) (spectypes.Kind, string, error) {
	switch n.Kind {
	case specast.KBoolLit:
		return spectypes.BOOL, "", nil

	case specast.KIntLit:
		return spectypes.INT, "", nil

	case specast.KIdent:
		entry, ok := ctx.Lookup(n.Name)
		if !ok {
			return 0, "", fmt.Errorf("identifier %q is not declared", n.Name)
		}
		return entry.Kind, entry.EnumName, nil

	case specast.KNot, specast.KY, specast.KO, specast.KH:
		k, _, err := infer(ctx, n.Left)
		if err != nil {
			return 0, "", err
		}
		if k != spectypes.BOOL {
			return 0, "", fmt.Errorf("operator %s requires a bool operand, got %s", n.Kind, k)
		}
		return spectypes.BOOL, "", nil

	case specast.KAnd, specast.KOr, specast.KArrow, specast.KSince:
		lk, _, err := infer(ctx, n.Left)
		if err != nil {
			return 0, "", err
		}
		if lk != spectypes.BOOL {
			return 0, "", fmt.Errorf("left operand of %s must be bool, got %s", n.Kind, lk)
		}
		rk, _, err := infer(ctx, n.Right)
		if err != nil {
			return 0, "", err
		}
		if rk != spectypes.BOOL {
			return 0, "", fmt.Errorf("right operand of %s must be bool, got %s", n.Kind, rk)
		}
		return spectypes.BOOL, "", nil

	case specast.KEq, specast.KNeq:
		lk, lEnum, err := infer(ctx, n.Left)
		if err != nil {
			return 0, "", err
		}
		rk, rEnum, err := infer(ctx, n.Right)
		if err != nil {
			return 0, "", err
		}
		if lk != rk || lEnum != rEnum {
			return 0, "", fmt.Errorf("%s requires both sides of the same type, got %s vs %s", n.Kind, describe(lk, lEnum), describe(rk, rEnum))
		}
		return spectypes.BOOL, "", nil

	case specast.KGt, specast.KGte, specast.KLt, specast.KLte:
		lk, _, err := infer(ctx, n.Left)
		if err != nil {
			return 0, "", err
		}
		if lk != spectypes.INT {
			return 0, "", fmt.Errorf("%s requires an int left operand, got %s", n.Kind, lk)
		}
		rk, _, err := infer(ctx, n.Right)
		if err != nil {
			return 0, "", err
		}
		if rk != spectypes.INT {
			return 0, "", fmt.Errorf("%s requires an int right operand, got %s", n.Kind, rk)
		}
		return spectypes.BOOL, "", nil
	}

	return 0, "", fmt.Errorf("unhandled node kind %s", n.Kind)
}

func describe(k spectypes.Kind, enumName string) string {
	if k == spectypes.ENUM {
		return fmt.Sprintf("enum %s", enumName)
	}
	return k.String()
}
