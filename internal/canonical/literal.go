package canonical

import (
	"github.com/authz-engine/prp-core/pkg/types"
)

// Literal is a predicate with a polarity. Literals are value types owned
// by the clause that holds them; the predicate itself is shared.
type Literal struct {
	Pred    Predicate
	Negated bool
}

// Pos creates a non-negated literal.
func Pos(p Predicate) Literal {
	return Literal{Pred: p}
}

// Neg creates a negated literal.
func Neg(p Predicate) Literal {
	return Literal{Pred: p, Negated: true}
}

// Evaluate resolves the literal, applying its polarity.
func (l Literal) Evaluate(b *types.Bindings) (bool, error) {
	v, err := l.Pred.Evaluate(b)
	if err != nil {
		return false, err
	}
	return v != l.Negated, nil
}

// Negate returns the literal with inverted polarity.
func (l Literal) Negate() Literal {
	return Literal{Pred: l.Pred, Negated: !l.Negated}
}

// IsImmutable reports whether the literal's value is fixed at compile
// time.
func (l Literal) IsImmutable() bool {
	return l.Pred.IsConstant()
}

// ConstantValue returns the compile-time value of an immutable literal,
// polarity applied.
func (l Literal) ConstantValue() bool {
	return l.Pred.ConstantValue() != l.Negated
}

// SharesPredicate reports whether both literals reference the same
// predicate, regardless of polarity.
func (l Literal) SharesPredicate(o Literal) bool {
	return l.Pred.Fingerprint() == o.Pred.Fingerprint()
}

// Complements reports whether both literals reference the same predicate
// with opposite polarity.
func (l Literal) Complements(o Literal) bool {
	return l.SharesPredicate(o) && l.Negated != o.Negated
}

// Equals reports structural equality: same predicate, same polarity.
func (l Literal) Equals(o Literal) bool {
	return l.SharesPredicate(o) && l.Negated == o.Negated
}

// Fingerprint identifies the literal, polarity included.
func (l Literal) Fingerprint() string {
	if l.Negated {
		return "!" + l.Pred.Fingerprint()
	}
	return "=" + l.Pred.Fingerprint()
}
