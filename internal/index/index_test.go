package index

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/pkg/types"
)

type fakePredicate struct {
	name  string
	value bool
	err   error
	calls int
}

func (p *fakePredicate) Evaluate(*types.Bindings) (bool, error) {
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return p.value, nil
}

func (p *fakePredicate) Fingerprint() string { return p.name }
func (p *fakePredicate) IsConstant() bool    { return false }
func (p *fakePredicate) ConstantValue() bool { return false }

func clause(t *testing.T, lits ...canonical.Literal) *canonical.Clause {
	t.Helper()
	c, err := canonical.NewClause(lits)
	require.NoError(t, err)
	return c
}

func formula(t *testing.T, clauses ...*canonical.Clause) *canonical.Formula {
	t.Helper()
	f, err := canonical.NewFormula(clauses)
	require.NoError(t, err)
	return f
}

func build(t *testing.T, formulas map[string]*canonical.Formula) *Container {
	t.Helper()
	return NewBuilder(NaturalOrder{}, nil).Build(Input{Formulas: formulas})
}

func TestMatch_SharedPredicateEvaluatedOnce(t *testing.T) {
	// Two documents with the same canonical target share one predicate.
	admin := &fakePredicate{name: "admin", value: true}

	c := build(t, map[string]*canonical.Formula{
		"doc-1": formula(t, clause(t, canonical.Pos(admin))),
		"doc-2": formula(t, clause(t, canonical.Pos(admin))),
	})

	res := c.Match(nil, Strict)
	assert.False(t, res.HadError)
	assert.Equal(t, []string{"doc-1", "doc-2"}, res.DocumentIDs)
	assert.Equal(t, 1, admin.calls)
}

func TestMatch_ConjunctionNotSatisfied(t *testing.T) {
	// Target: action=="read" AND resource=="doc1"; request carries a
	// different action.
	read := &fakePredicate{name: "read", value: false}
	doc1 := &fakePredicate{name: "res", value: true}

	c := build(t, map[string]*canonical.Formula{
		"doc-1": formula(t, clause(t, canonical.Pos(read), canonical.Pos(doc1))),
	})

	res := c.Match(nil, Strict)
	assert.False(t, res.HadError)
	assert.Empty(t, res.DocumentIDs)
}

func TestMatch_TautologyAlwaysIncluded(t *testing.T) {
	p := &fakePredicate{name: "p"}

	taut, err := canonical.NewBuilder(nil).Build(nil)
	require.NoError(t, err)

	c := build(t, map[string]*canonical.Formula{
		"always": taut,
		"cond":   formula(t, clause(t, canonical.Pos(p))),
	})

	for _, v := range []bool{true, false} {
		p.value = v
		res := c.Match(nil, Strict)
		assert.True(t, res.Contains("always"))
		assert.Equal(t, v, res.Contains("cond"))
	}
}

func TestMatch_ContradictionNeverIncluded(t *testing.T) {
	contradiction := formula(t, clause(t, canonical.Pos(canonical.Constant(false))))

	c := build(t, map[string]*canonical.Formula{
		"never": contradiction,
	})

	res := c.Match(nil, Strict)
	assert.Empty(t, res.DocumentIDs)
	assert.False(t, res.HadError)
}

func TestMatch_StrictModeAbortsOnError(t *testing.T) {
	// Natural order evaluates "a-broken" before "b-ok".
	broken := &fakePredicate{name: "a-broken", err: errors.New("type mismatch")}
	ok := &fakePredicate{name: "b-ok", value: true}

	c := build(t, map[string]*canonical.Formula{
		"doc-broken": formula(t, clause(t, canonical.Pos(broken))),
		"doc-ok":     formula(t, clause(t, canonical.Pos(ok))),
	})

	res := c.Match(nil, Strict)
	assert.True(t, res.HadError)
	assert.NotContains(t, res.DocumentIDs, "doc-broken")
	assert.Equal(t, 0, ok.calls, "strict mode must abort before later predicates")
}

func TestMatch_GracefulModeScopesError(t *testing.T) {
	broken := &fakePredicate{name: "a-broken", err: errors.New("type mismatch")}
	ok := &fakePredicate{name: "b-ok", value: true}
	no := &fakePredicate{name: "c-no", value: false}

	c := build(t, map[string]*canonical.Formula{
		"doc-broken": formula(t, clause(t, canonical.Pos(broken))),
		"doc-ok":     formula(t, clause(t, canonical.Pos(ok))),
		"doc-no":     formula(t, clause(t, canonical.Pos(no))),
	})

	res := c.Match(nil, Graceful)
	assert.True(t, res.HadError)
	assert.Equal(t, []string{"doc-ok"}, res.DocumentIDs)
}

func TestMatch_GracefulErrorDoesNotEliminateSiblingClause(t *testing.T) {
	// doc matches via its second, independent clause even though the
	// first clause's predicate fails.
	broken := &fakePredicate{name: "a-broken", err: errors.New("boom")}
	alt := &fakePredicate{name: "b-alt", value: true}

	// The failing predicate's formula is unusable for this request as a
	// whole, so the document must NOT match through the broken formula...
	c := build(t, map[string]*canonical.Formula{
		"doc": formula(t,
			clause(t, canonical.Pos(broken)),
			clause(t, canonical.Pos(alt)),
		),
	})
	res := c.Match(nil, Graceful)
	assert.True(t, res.HadError)
	assert.Empty(t, res.DocumentIDs)

	// ...but an identical alternative clause in an unrelated document
	// still matches.
	c = build(t, map[string]*canonical.Formula{
		"doc-broken": formula(t, clause(t, canonical.Pos(broken))),
		"doc-alt":    formula(t, clause(t, canonical.Pos(alt))),
	})
	res = c.Match(nil, Graceful)
	assert.True(t, res.HadError)
	assert.Equal(t, []string{"doc-alt"}, res.DocumentIDs)
}

func TestMatch_DisjunctionSiblingsRetired(t *testing.T) {
	x0 := &fakePredicate{name: "x0"}
	x1 := &fakePredicate{name: "x1"}
	x2 := &fakePredicate{name: "x2", value: true}

	// p0: !x1; p1: !x0 AND !x1; p2: x1 OR x2
	c := build(t, map[string]*canonical.Formula{
		"p0": formula(t, clause(t, canonical.Neg(x1))),
		"p1": formula(t, clause(t, canonical.Neg(x0), canonical.Neg(x1))),
		"p2": formula(t, clause(t, canonical.Pos(x1)), clause(t, canonical.Pos(x2))),
	})

	res := c.Match(nil, Strict)
	assert.False(t, res.HadError)
	assert.Equal(t, []string{"p0", "p1", "p2"}, res.DocumentIDs)
}

func TestMatch_UnusableDocumentsReported(t *testing.T) {
	p := &fakePredicate{name: "p", value: true}

	c := NewBuilder(nil, nil).Build(Input{
		Formulas: map[string]*canonical.Formula{
			"good": formula(t, clause(t, canonical.Pos(p))),
		},
		Unusable: map[string]error{
			"bad": errors.New("malformed target"),
		},
	})

	require.Contains(t, c.Unusable(), "bad")
	res := c.Match(nil, Strict)
	assert.Equal(t, []string{"good"}, res.DocumentIDs)
}

func TestMatch_EmptyIndex(t *testing.T) {
	c := NewBuilder(nil, nil).Build(Input{})
	res := c.Match(nil, Strict)
	assert.Empty(t, res.DocumentIDs)
	assert.False(t, res.HadError)
}

// TestMatch_SoundnessAgainstBruteForce compares indexed matching with
// direct formula evaluation over a randomized corpus.
func TestMatch_SoundnessAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	const nPredicates = 10
	preds := make([]*fakePredicate, nPredicates)
	for i := range preds {
		preds[i] = &fakePredicate{name: "p" + string(rune('0'+i))}
	}

	randomFormula := func() *canonical.Formula {
		nClauses := 1 + rng.Intn(3)
		clauses := make([]*canonical.Clause, 0, nClauses)
		for i := 0; i < nClauses; i++ {
			nLits := 1 + rng.Intn(3)
			lits := make([]canonical.Literal, 0, nLits)
			used := map[int]bool{}
			for j := 0; j < nLits; j++ {
				k := rng.Intn(nPredicates)
				if used[k] {
					continue
				}
				used[k] = true
				if rng.Intn(2) == 0 {
					lits = append(lits, canonical.Pos(preds[k]))
				} else {
					lits = append(lits, canonical.Neg(preds[k]))
				}
			}
			clauses = append(clauses, clause(t, lits...))
		}
		return formula(t, clauses...).Reduce()
	}

	for trial := 0; trial < 50; trial++ {
		formulas := make(map[string]*canonical.Formula)
		nDocs := 1 + rng.Intn(8)
		for d := 0; d < nDocs; d++ {
			formulas["doc-"+string(rune('a'+d))] = randomFormula()
		}

		strategy := OrderStrategy(DefaultOrder{})
		if trial%2 == 1 {
			strategy = NaturalOrder{}
		}
		c := NewBuilder(strategy, nil).Build(Input{Formulas: formulas})

		for round := 0; round < 16; round++ {
			for _, p := range preds {
				p.value = rng.Intn(2) == 0
			}

			res := c.Match(nil, Strict)
			require.False(t, res.HadError)

			for id, f := range formulas {
				want, err := f.Evaluate(nil)
				require.NoError(t, err)
				assert.Equal(t, want, res.Contains(id),
					"trial %d round %d document %s", trial, round, id)
			}
		}
	}
}

// TestMatch_AtMostOncePerRetrieve verifies that a predicate shared by
// many documents is evaluated at most once per match call.
func TestMatch_AtMostOncePerRetrieve(t *testing.T) {
	shared := &fakePredicate{name: "shared", value: true}
	other := &fakePredicate{name: "zz-other", value: true}

	formulas := make(map[string]*canonical.Formula)
	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		formulas[id] = formula(t, clause(t, canonical.Pos(shared), canonical.Pos(other)))
	}
	formulas["d5"] = formula(t, clause(t, canonical.Neg(shared)))

	c := build(t, formulas)

	shared.calls = 0
	other.calls = 0
	res := c.Match(nil, Strict)

	assert.Equal(t, []string{"d1", "d2", "d3", "d4"}, res.DocumentIDs)
	assert.Equal(t, 1, shared.calls)
	assert.Equal(t, 1, other.calls)
}

func TestMatch_SkipsIrrelevantPredicates(t *testing.T) {
	// With natural order, "a" falsifies the only clause containing "b";
	// "b" must then be skipped entirely.
	a := &fakePredicate{name: "a", value: false}
	bp := &fakePredicate{name: "b", value: true}

	c := build(t, map[string]*canonical.Formula{
		"doc": formula(t, clause(t, canonical.Pos(a), canonical.Pos(bp))),
	})

	res := c.Match(nil, Strict)
	assert.Empty(t, res.DocumentIDs)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, bp.calls)
}

func TestDefaultOrder_PrefersSmallSharedClauses(t *testing.T) {
	small := &fakePredicate{name: "small"}
	large := &fakePredicate{name: "large"}
	f1 := &fakePredicate{name: "f1"}
	f2 := &fakePredicate{name: "f2"}
	f3 := &fakePredicate{name: "f3"}

	// "small" appears alone in three formulas; "large" appears once
	// inside a four-literal clause.
	c := NewBuilder(DefaultOrder{}, nil).Build(Input{
		Formulas: map[string]*canonical.Formula{
			"a": formula(t, clause(t, canonical.Pos(small))),
			"b": formula(t, clause(t, canonical.Pos(small))),
			"c": formula(t, clause(t, canonical.Pos(small))),
			"d": formula(t, clause(t,
				canonical.Pos(large), canonical.Pos(f1), canonical.Pos(f2), canonical.Pos(f3))),
		},
	})

	require.NotEmpty(t, c.order)
	assert.Equal(t, "small", c.order[0].pred.Fingerprint())
}
