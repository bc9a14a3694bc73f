package canonical

import (
	"sort"
	"strings"

	"github.com/authz-engine/prp-core/pkg/types"
)

// Formula is a non-empty disjunction of conjunctive clauses: the
// canonical form of one policy document's target expression. Formulas are
// immutable; every operation returns a new formula.
type Formula struct {
	clauses []*Clause
}

// NewFormula creates a formula from a non-empty clause list.
func NewFormula(clauses []*Clause) (*Formula, error) {
	if len(clauses) == 0 {
		return nil, &types.ConstructionError{Op: "formula", Reason: "clause list must not be empty"}
	}
	owned := make([]*Clause, len(clauses))
	copy(owned, clauses)
	return &Formula{clauses: owned}, nil
}

func mustFormula(clauses []*Clause) *Formula {
	f, err := NewFormula(clauses)
	if err != nil {
		panic(err)
	}
	return f
}

// Tautology returns the formula of an absent target expression: a single
// constant-true clause.
func Tautology() *Formula {
	return mustFormula([]*Clause{mustClause([]Literal{Pos(Constant(true))})})
}

// Clauses returns the formula's clauses. Callers must not mutate the
// returned slice.
func (f *Formula) Clauses() []*Clause {
	return f.clauses
}

// Size returns the number of clauses.
func (f *Formula) Size() int {
	return len(f.clauses)
}

// Evaluate OR-short-circuits across clauses. This is the brute-force
// reference semantics the index is verified against.
func (f *Formula) Evaluate(b *types.Bindings) (bool, error) {
	for _, c := range f.clauses {
		v, err := c.Evaluate(b)
		if err != nil {
			return false, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

// IsImmutable reports whether every clause is immutable.
func (f *Formula) IsImmutable() bool {
	for _, c := range f.clauses {
		if !c.IsImmutable() {
			return false
		}
	}
	return true
}

// ConstantValue evaluates an immutable formula at compile time.
func (f *Formula) ConstantValue() bool {
	for _, c := range f.clauses {
		if c.ConstantValue() {
			return true
		}
	}
	return false
}

// Combine ORs two formulas by clause concatenation, then reduces.
func (f *Formula) Combine(o *Formula) *Formula {
	merged := make([]*Clause, 0, len(f.clauses)+len(o.clauses))
	merged = append(merged, f.clauses...)
	merged = append(merged, o.clauses...)
	return mustFormula(merged).Reduce()
}

// Distribute ANDs two formulas via the distributive law: the clause
// cross-product with concatenated literals, then reduction. Quadratic in
// the clause counts.
func (f *Formula) Distribute(o *Formula) *Formula {
	crossed := make([]*Clause, 0, len(f.clauses)*len(o.clauses))
	for _, a := range f.clauses {
		for _, b := range o.clauses {
			lits := make([]Literal, 0, a.Size()+b.Size())
			lits = append(lits, a.literals...)
			lits = append(lits, b.literals...)
			crossed = append(crossed, mustClause(lits))
		}
	}
	return mustFormula(crossed).Reduce()
}

// Negate applies De Morgan's law: each clause negates to a disjunction of
// its negated literals, the per-clause results are ANDed together by
// distribution, and the outcome is reduced.
func (f *Formula) Negate() *Formula {
	var acc *Formula
	for _, c := range f.clauses {
		negated := make([]*Clause, c.Size())
		for i, lit := range c.literals {
			negated[i] = mustClause([]Literal{lit.Negate()})
		}
		part := mustFormula(negated)
		if acc == nil {
			acc = part
		} else {
			acc = acc.Distribute(part)
		}
	}
	return acc.Reduce()
}

// Reduce canonicalizes the formula: each clause is reduced individually;
// with more than one clause remaining, an immutable true clause collapses
// the formula to itself, immutable false clauses are dropped unless the
// whole formula is a contradiction, and absorbed clauses are removed
// keeping the more specific alternative. Reduce is idempotent.
func (f *Formula) Reduce() *Formula {
	reduced := make([]*Clause, len(f.clauses))
	for i, c := range f.clauses {
		reduced[i] = c.Reduce()
	}
	if len(reduced) == 1 {
		return mustFormula(reduced)
	}

	kept := make([]*Clause, 0, len(reduced))
	for _, c := range reduced {
		if c.IsImmutable() {
			if c.ConstantValue() {
				// Tautology short-circuit.
				return mustFormula([]*Clause{c})
			}
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		// Every clause folded to false: a genuine contradiction.
		return mustFormula([]*Clause{mustClause([]Literal{Pos(Constant(false))})})
	}

	return mustFormula(absorb(kept))
}

// absorb drops every clause that is subsumed by a more specific
// alternative. Between equal clauses the later-positioned duplicate is
// dropped.
func absorb(clauses []*Clause) []*Clause {
	out := make([]*Clause, 0, len(clauses))
	for i, c := range clauses {
		absorbed := false
		for j, d := range clauses {
			if i == j {
				continue
			}
			if d.IsSubsetOf(c) && (!c.IsSubsetOf(d) || j < i) {
				absorbed = true
				break
			}
		}
		if !absorbed {
			out = append(out, c)
		}
	}
	return out
}

// Fingerprint identifies the formula's canonical clause set, independent
// of clause order. Formulas with equal fingerprints share one index slot.
func (f *Formula) Fingerprint() string {
	fps := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		fps[i] = c.Fingerprint()
	}
	sort.Strings(fps)
	return strings.Join(fps, "\x1e")
}

// Equals reports structural equality of the canonical clause sets.
func (f *Formula) Equals(o *Formula) bool {
	return f.Fingerprint() == o.Fingerprint()
}
