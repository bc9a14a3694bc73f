// Package canonical implements the boolean normal form that policy
// targets are compiled into: predicates with polarity grouped into
// conjunctive clauses, grouped into disjunctive formulas, plus the
// builder that canonicalizes a raw target-expression tree.
package canonical

import (
	"github.com/authz-engine/prp-core/pkg/types"
)

// Predicate is one indivisible boolean sub-condition of a target
// expression. Implementations are immutable; identity is structural via
// Fingerprint. A constant predicate's value never changes, a dynamic one
// is re-evaluated per request.
type Predicate interface {
	// Evaluate resolves the predicate against the request bindings.
	Evaluate(b *types.Bindings) (bool, error)
	// Fingerprint uniquely identifies the expression structure.
	Fingerprint() string
	// IsConstant reports whether the value is fixed at compile time.
	IsConstant() bool
	// ConstantValue returns the compile-time value of a constant
	// predicate. Undefined for dynamic predicates.
	ConstantValue() bool
}

// Constant is a compile-time boolean predicate.
type Constant bool

// Evaluate returns the fixed value; it never fails.
func (c Constant) Evaluate(*types.Bindings) (bool, error) {
	return bool(c), nil
}

// Fingerprint returns a reserved identifier that cannot collide with
// compiled expression sources.
func (c Constant) Fingerprint() string {
	if c {
		return "\x00true"
	}
	return "\x00false"
}

// IsConstant always reports true.
func (c Constant) IsConstant() bool {
	return true
}

// ConstantValue returns the fixed value.
func (c Constant) ConstantValue() bool {
	return bool(c)
}
