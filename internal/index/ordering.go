package index

import (
	"math"
	"sort"
)

// OrderStrategy determines the order predicates are evaluated in during a
// match. Ordering is a pure heuristic: any order is correct, a good one
// minimizes predicate evaluations and therefore attribute lookups.
type OrderStrategy interface {
	Order(entries []*predicateEntry)
}

// DefaultOrder scores predicates by elimination power and fan-out:
// predicates occurring in small clauses eliminate more per evaluation,
// predicates shared across many distinct formulas prune more documents at
// once. Rare predicates that only appear inside large clauses are
// deferred.
type DefaultOrder struct{}

// Order sorts entries by descending score with a deterministic
// fingerprint tie-break.
func (DefaultOrder) Order(entries []*predicateEntry) {
	for _, e := range entries {
		e.score = score(e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].pred.Fingerprint() < entries[j].pred.Fingerprint()
	})
}

func score(e *predicateEntry) float64 {
	groups := float64(e.posFormulas + e.negFormulas)
	if groups == 0 || e.occurrences == 0 {
		return 0
	}
	relevance := e.relevanceSum / float64(e.occurrences)
	skew := float64(e.posFormulas-e.negFormulas) / groups
	return math.Pow(relevance, 2-relevance) * groups * (2 - skew*skew)
}

// NaturalOrder orders predicates lexically by fingerprint, ignoring the
// scoring heuristic. Used by tests that need a predictable evaluation
// sequence.
type NaturalOrder struct{}

// Order sorts entries by fingerprint.
func (NaturalOrder) Order(entries []*predicateEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].pred.Fingerprint() < entries[j].pred.Fingerprint()
	})
}
