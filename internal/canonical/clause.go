package canonical

import (
	"sort"
	"strings"

	"github.com/authz-engine/prp-core/pkg/types"
)

// Clause is a non-empty conjunction of literals. Clauses are immutable;
// Reduce returns a new clause.
type Clause struct {
	literals []Literal
}

// NewClause creates a clause from a non-empty literal list. Constructing
// from an empty list violates an invariant and fails.
func NewClause(literals []Literal) (*Clause, error) {
	if len(literals) == 0 {
		return nil, &types.ConstructionError{Op: "clause", Reason: "literal list must not be empty"}
	}
	owned := make([]Literal, len(literals))
	copy(owned, literals)
	return &Clause{literals: owned}, nil
}

// mustClause is used internally where non-emptiness is already known.
func mustClause(literals []Literal) *Clause {
	c, err := NewClause(literals)
	if err != nil {
		panic(err)
	}
	return c
}

// Literals returns the clause's literals. Callers must not mutate the
// returned slice.
func (c *Clause) Literals() []Literal {
	return c.literals
}

// Size returns the number of literals.
func (c *Clause) Size() int {
	return len(c.literals)
}

// Evaluate AND-short-circuits left to right, failing on the first literal
// whose predicate evaluation fails.
func (c *Clause) Evaluate(b *types.Bindings) (bool, error) {
	for _, lit := range c.literals {
		v, err := lit.Evaluate(b)
		if err != nil {
			return false, err
		}
		if !v {
			return false, nil
		}
	}
	return true, nil
}

// IsImmutable reports whether every literal's predicate is constant, in
// which case the clause's value is fixed at compile time.
func (c *Clause) IsImmutable() bool {
	for _, lit := range c.literals {
		if !lit.IsImmutable() {
			return false
		}
	}
	return true
}

// ConstantValue evaluates an immutable clause at compile time.
func (c *Clause) ConstantValue() bool {
	for _, lit := range c.literals {
		if !lit.ConstantValue() {
			return false
		}
	}
	return true
}

// Reduce folds constant literals and removes duplicates. A false constant
// literal voids the clause to the single false clause; true constants are
// dropped. Reduce is idempotent.
func (c *Clause) Reduce() *Clause {
	out := make([]Literal, 0, len(c.literals))
	seen := make(map[string]struct{}, len(c.literals))
	for _, lit := range c.literals {
		if lit.IsImmutable() {
			if !lit.ConstantValue() {
				return mustClause([]Literal{Pos(Constant(false))})
			}
			continue
		}
		fp := lit.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, lit)
	}
	if len(out) == 0 {
		// Every literal was a true constant.
		return mustClause([]Literal{Pos(Constant(true))})
	}
	return mustClause(out)
}

// IsSubsetOf reports whether every literal of this clause has a matching
// literal (same predicate, same polarity) in the other clause. If so, the
// other clause is absorbed: A OR (A AND B) == A.
func (c *Clause) IsSubsetOf(o *Clause) bool {
	for _, lit := range c.literals {
		if !containsLiteral(o.literals, lit) {
			return false
		}
	}
	return true
}

func containsLiteral(literals []Literal, lit Literal) bool {
	for _, l := range literals {
		if l.Equals(lit) {
			return true
		}
	}
	return false
}

// Equals reports structural equality, ignoring literal order.
func (c *Clause) Equals(o *Clause) bool {
	return len(c.literals) == len(o.literals) && c.IsSubsetOf(o) && o.IsSubsetOf(c)
}

// Fingerprint identifies the clause independently of literal order.
func (c *Clause) Fingerprint() string {
	fps := make([]string, len(c.literals))
	for i, lit := range c.literals {
		fps[i] = lit.Fingerprint()
	}
	sort.Strings(fps)
	return strings.Join(fps, "\x1f")
}
