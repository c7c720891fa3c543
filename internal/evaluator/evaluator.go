// Package evaluator implements the incremental two-bitvector ptLTL
// evaluator (spec §4.4): one (old, new) bitvector pair per top-level
// formula, swapped on every step, giving O(tree_size) work and memory
// per event regardless of how many events have been processed.
package evaluator

import (
	"fmt"
	"strconv"

	"github.com/ptltl/monitor/internal/bitset"
	"github.com/ptltl/monitor/internal/snapshot"
	"github.com/ptltl/monitor/internal/specast"
	"github.com/ptltl/monitor/internal/spectypes"
	"github.com/ptltl/monitor/internal/state"
)

// UnknownVariableError is fatal: a formula references a predicate the
// adapter never emitted for this event. Carries enough to point at the
// offending property in a violation/error report.
type UnknownVariableError struct {
	FormulaIndex int
	Name         string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("formula %d: no value for %q", e.FormulaIndex, e.Name)
}

// pair is one formula's (old, new) bitvector pair.
type pair struct {
	old *bitset.Set
	new *bitset.Set
}

func newPair(size int) pair {
	return pair{old: bitset.New(size), new: bitset.New(size)}
}

func (p pair) clone() pair {
	return pair{old: p.old.Clone(), new: p.new.Clone()}
}

// DriverCounters is the driver-owned bookkeeping that rides along with
// an evaluator snapshot (spec §4.4 save/restore: "deep-copies index,
// both bitvector vectors, and the driver-owned event/session counters").
type DriverCounters struct {
	SessionCounter int
	EventCounter   int
}

// snapshot is a deep copy of the evaluator's entire inter-step state,
// keyed by an integer id chosen by the caller (driver loop).
type snapshot struct {
	index    int
	pairs    []pair
	counters DriverCounters
}

// Evaluator holds one bitvector pair per formula plus the frozen spec
// and type context needed to interpret each node.
type Evaluator struct {
	spec  *specast.Spec
	ctx   *spectypes.Context
	pairs []pair
	index int

	snapshots map[int64]snapshot
}

// Save deep-copies the current index, both bitvector pairs for every
// formula, and counters under key id, overwriting any prior snapshot
// at that key.
func (e *Evaluator) Save(id int64, counters DriverCounters) {
	pairs := make([]pair, len(e.pairs))
	for i, p := range e.pairs {
		pairs[i] = p.clone()
	}
	e.snapshots[id] = snapshot{index: e.index, pairs: pairs, counters: counters}
}

// Restore overwrites the evaluator's live state with the snapshot saved
// under id. It must not mutate live state on failure, so the id lookup
// happens before anything is touched.
func (e *Evaluator) Restore(id int64) (DriverCounters, bool) {
	snap, ok := e.snapshots[id]
	if !ok {
		return DriverCounters{}, false
	}
	for i, p := range snap.pairs {
		e.pairs[i] = p.clone()
	}
	e.index = snap.index
	return snap.counters, true
}

// New builds an Evaluator for spec, which must already be preprocessed
// (spec.TreeSizes populated) and type-checked against ctx.
func New(spec *specast.Spec, ctx *spectypes.Context) *Evaluator {
	e := &Evaluator{
		spec:      spec,
		ctx:       ctx,
		pairs:     make([]pair, len(spec.Formulas)),
		snapshots: make(map[int64]snapshot),
	}
	for i, size := range spec.TreeSizes {
		e.pairs[i] = newPair(size)
	}
	return e
}

// Index returns the number of steps evaluated since the last reset.
func (e *Evaluator) Index() int { return e.index }

// Reset zeroes both bitvector pairs for every formula and resets the
// step counter. Called on __END_SESSION__ (spec §4.4 reset_evaluator).
func (e *Evaluator) Reset() {
	for i := range e.pairs {
		e.pairs[i].old.ClearAll()
		e.pairs[i].new.ClearAll()
	}
	e.index = 0
}

// EvaluateOneStep evaluates every top-level formula against st and
// returns the verdict vector, one bool per formula in spec.Formulas
// order. See spec §4.4 steps 1-3.
func (e *Evaluator) EvaluateOneStep(st *state.State) ([]bool, error) {
	verdicts := make([]bool, len(e.spec.Formulas))
	for i, f := range e.spec.Formulas {
		p := e.pairs[i]
		p.new.ClearAll()
		v, err := e.evalNode(f, st, p)
		if err != nil {
			if uv, ok := err.(*unresolved); ok {
				return nil, &UnknownVariableError{FormulaIndex: i, Name: uv.name}
			}
			return nil, err
		}
		verdicts[i] = v
	}
	for i := range e.pairs {
		e.pairs[i].old.CopyFrom(e.pairs[i].new)
		e.pairs[i].new.ClearAll()
	}
	e.index++
	return verdicts, nil
}

// ExportBundle captures the evaluator's live state (not a keyed
// snapshot) as a snapshot.Bundle, for durable CBOR export across
// process restarts.
func (e *Evaluator) ExportBundle(counters DriverCounters) *snapshot.Bundle {
	formulas := make([]snapshot.FormulaBits, len(e.pairs))
	for i, p := range e.pairs {
		formulas[i] = snapshot.FormulaBits{
			Size:    p.old.Size(),
			OldBits: append([]uint64(nil), p.old.Words()...),
			NewBits: append([]uint64(nil), p.new.Words()...),
		}
	}
	return snapshot.New(e.index, counters.SessionCounter, counters.EventCounter, formulas)
}

// ImportBundle overwrites the evaluator's live state from a
// previously-exported bundle. The bundle must have one FormulaBits
// entry per formula in this evaluator's spec, in order.
func (e *Evaluator) ImportBundle(b *snapshot.Bundle) (DriverCounters, error) {
	if len(b.Formulas) != len(e.pairs) {
		return DriverCounters{}, fmt.Errorf("evaluator: bundle has %d formulas, evaluator has %d", len(b.Formulas), len(e.pairs))
	}
	for i, fb := range b.Formulas {
		if fb.Size != e.pairs[i].old.Size() {
			return DriverCounters{}, fmt.Errorf("evaluator: formula %d size mismatch: bundle %d, evaluator %d", i, fb.Size, e.pairs[i].old.Size())
		}
	}
	for i, fb := range b.Formulas {
		e.pairs[i].old = bitset.FromWords(fb.Size, fb.OldBits)
		e.pairs[i].new = bitset.FromWords(fb.Size, fb.NewBits)
	}
	e.index = b.Index
	return DriverCounters{SessionCounter: b.SessionCounter, EventCounter: b.EventCounter}, nil
}

// unresolved signals a missing label while walking a formula; caught and
// rewrapped with the formula index by EvaluateOneStep.
type unresolved struct{ name string }

func (u *unresolved) Error() string { return fmt.Sprintf("unresolved variable %q", u.name) }

// evalNode computes n's boolean value for the current step, recording
// it in p.new at n's serial whenever n is itself bool-typed, and
// consulting p.old for past-time operators.
func (e *Evaluator) evalNode(n *specast.Node, st *state.State, p pair) (bool, error) {
	switch n.Kind {
	case specast.KBoolLit:
		setOrClear(p.new, n.Serial, n.BoolValue)
		return n.BoolValue, nil

	case specast.KIdent:
		v, err := e.resolveBool(n.Name, st)
		if err != nil {
			return false, err
		}
		setOrClear(p.new, n.Serial, v)
		return v, nil

	case specast.KNot:
		v, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		out := !v
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KAnd:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		r, err := e.evalNode(n.Right, st, p)
		if err != nil {
			return false, err
		}
		out := l && r
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KOr:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		r, err := e.evalNode(n.Right, st, p)
		if err != nil {
			return false, err
		}
		out := l || r
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KArrow:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		r, err := e.evalNode(n.Right, st, p)
		if err != nil {
			return false, err
		}
		out := !l || r
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KY:
		// Yesterday: true iff index != 0 and the child held true at step
		// index-1. At step 0, old is all-zero, so this guard is
		// redundant there but kept explicit to match §4.4's stated base
		// case. Still must recursively evaluate the child to catch
		// UnknownVariableError consistently, but its *value* this step
		// is irrelevant here.
		if _, err := e.evalNode(n.Left, st, p); err != nil {
			return false, err
		}
		out := e.index != 0 && p.old.Test(n.Left.Serial)
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KO:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		out := l || p.old.Test(n.Serial)
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KH:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		out := l && (e.index == 0 || p.old.Test(n.Serial))
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KSince:
		l, err := e.evalNode(n.Left, st, p)
		if err != nil {
			return false, err
		}
		r, err := e.evalNode(n.Right, st, p)
		if err != nil {
			return false, err
		}
		out := r || (l && p.old.Test(n.Serial))
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KEq, specast.KNeq:
		out, err := e.evalComparisonEq(n, st)
		if err != nil {
			return false, err
		}
		setOrClear(p.new, n.Serial, out)
		return out, nil

	case specast.KGt, specast.KGte, specast.KLt, specast.KLte:
		out, err := e.evalComparisonOrd(n, st)
		if err != nil {
			return false, err
		}
		setOrClear(p.new, n.Serial, out)
		return out, nil
	}

	return false, fmt.Errorf("evaluator: unhandled node kind %s", n.Kind)
}

func setOrClear(b *bitset.Set, serial int, v bool) {
	if v {
		b.SetBit(serial)
	} else {
		b.ClearBit(serial)
	}
}

// resolveBool returns the current truth value of a bare bool-typed
// identifier (a BOOL-kind variable, or the reserved true/false).
func (e *Evaluator) resolveBool(name string, st *state.State) (bool, error) {
	if name == "true" {
		return true, nil
	}
	if name == "false" {
		return false, nil
	}
	v, err := st.GetLabel(name)
	if err != nil {
		return false, &unresolved{name: name}
	}
	return v == "true", nil
}

// evalComparisonEq evaluates == and != over operands that may be INT,
// BOOL, or ENUM typed (type checker already proved both sides agree).
func (e *Evaluator) evalComparisonEq(n *specast.Node, st *state.State) (bool, error) {
	kind, err := e.operandKind(n.Left)
	if err != nil {
		return false, err
	}
	var equal bool
	switch kind {
	case spectypes.INT:
		l, err := e.resolveInt(n.Left, st)
		if err != nil {
			return false, err
		}
		r, err := e.resolveInt(n.Right, st)
		if err != nil {
			return false, err
		}
		equal = l == r
	default: // BOOL or ENUM: canonical string identity
		l, err := e.resolveStr(n.Left, st)
		if err != nil {
			return false, err
		}
		r, err := e.resolveStr(n.Right, st)
		if err != nil {
			return false, err
		}
		equal = l == r
	}
	if n.Kind == specast.KNeq {
		return !equal, nil
	}
	return equal, nil
}

func (e *Evaluator) evalComparisonOrd(n *specast.Node, st *state.State) (bool, error) {
	l, err := e.resolveInt(n.Left, st)
	if err != nil {
		return false, err
	}
	r, err := e.resolveInt(n.Right, st)
	if err != nil {
		return false, err
	}
	switch n.Kind {
	case specast.KGt:
		return l > r, nil
	case specast.KGte:
		return l >= r, nil
	case specast.KLt:
		return l < r, nil
	case specast.KLte:
		return l <= r, nil
	}
	return false, fmt.Errorf("evaluator: unreachable comparison kind %s", n.Kind)
}

// operandKind resolves the declared kind of a comparison operand node
// (an identifier looks up its type; a literal is self-describing).
func (e *Evaluator) operandKind(n *specast.Node) (spectypes.Kind, error) {
	switch n.Kind {
	case specast.KIntLit:
		return spectypes.INT, nil
	case specast.KBoolLit:
		return spectypes.BOOL, nil
	case specast.KIdent:
		entry, ok := e.ctx.Lookup(n.Name)
		if !ok {
			return 0, &unresolved{name: n.Name}
		}
		return entry.Kind, nil
	}
	return 0, fmt.Errorf("evaluator: %s is not a valid comparison operand", n.Kind)
}

// resolveInt returns an operand's int value: a literal's own value, or
// an INT-typed identifier's currently labeled value parsed as decimal.
func (e *Evaluator) resolveInt(n *specast.Node, st *state.State) (int64, error) {
	if n.Kind == specast.KIntLit {
		return n.IntValue, nil
	}
	v, err := st.GetLabel(n.Name)
	if err != nil {
		return 0, &unresolved{name: n.Name}
	}
	iv, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("evaluator: label %q=%q is not a signed decimal", n.Name, v)
	}
	return iv, nil
}

// resolveStr returns an operand's canonical string value: an enum
// value's own name, a bool literal's "true"/"false", or an identifier's
// currently labeled value (which, for ENUM self-bindings, is the enum
// value's own name).
func (e *Evaluator) resolveStr(n *specast.Node, st *state.State) (string, error) {
	switch n.Kind {
	case specast.KBoolLit:
		if n.BoolValue {
			return "true", nil
		}
		return "false", nil
	case specast.KIdent:
		v, err := st.GetLabel(n.Name)
		if err != nil {
			return "", &unresolved{name: n.Name}
		}
		return v, nil
	}
	return "", fmt.Errorf("evaluator: %s is not a valid string operand", n.Kind)
}
