// Package index implements the compiled retrieval index: an immutable
// container of deduplicated target clauses shared across all published
// documents, and the incremental match algorithm that evaluates each
// distinct predicate at most once per request.
package index

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/pkg/types"
)

// Mode selects how predicate evaluation failures are handled during a
// match.
type Mode int

const (
	// Strict aborts the match on the first evaluation failure.
	Strict Mode = iota
	// Graceful scopes a failure to the formulas reachable through the
	// failing predicate; unrelated documents are still retrievable.
	Graceful
)

// predicateEntry is the per-predicate slice of the index: the clauses the
// predicate can satisfy or falsify at each outcome, plus the ordering
// statistics collected at build time.
type predicateEntry struct {
	pred canonical.Predicate

	// pos holds clauses containing the predicate non-negated: satisfiable
	// when the predicate is true, unsatisfiable when false. neg is the
	// mirror image.
	pos *bitset.BitSet
	neg *bitset.BitSet

	// related is pos OR neg; used for the skip check.
	related *bitset.BitSet

	// errorScope covers every clause of every formula that references
	// this predicate. On graceful evaluation failure these clauses can
	// neither match nor eliminate.
	errorScope *bitset.BitSet

	// Ordering statistics feeding the evaluation-order heuristic.
	relevanceSum float64
	occurrences  int
	posFormulas  int
	negFormulas  int
	score        float64
}

// Container is the compiled, immutable index snapshot. It is shared by
// any number of concurrent matches; all mutable match state is a private
// per-call copy seeded from the container's templates.
type Container struct {
	// tautologyDocs are always candidates and bypass the clause index.
	tautologyDocs []string

	// unusable maps document IDs to the analysis error that excluded
	// them. Reported, never silently dropped.
	unusable map[string]error

	order []*predicateEntry

	clauseDocs     [][]string       // clause id -> document ids
	literalCounts  []int            // clause id -> distinct literal count
	clauseFormulas [][]int          // clause id -> formula ids containing it
	formulaRefs    []int            // clause id -> count of referencing formulas (template)
	formulaClauses []*bitset.BitSet // formula id -> clause ids

	all      *bitset.BitSet // template: every clause id set
	nClauses uint
}

// Unusable returns the documents excluded by target analysis failures,
// keyed by document ID.
func (c *Container) Unusable() map[string]error {
	return c.unusable
}

// DocumentCount returns the number of indexed plus tautological
// documents.
func (c *Container) DocumentCount() int {
	seen := make(map[string]struct{})
	for _, id := range c.tautologyDocs {
		seen[id] = struct{}{}
	}
	for _, docs := range c.clauseDocs {
		for _, id := range docs {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Match runs the incremental short-circuiting match against the request
// bindings and returns the candidate document set plus the error flag.
func (c *Container) Match(b *types.Bindings, mode Mode) *types.RetrievalResult {
	start := time.Now()

	result := make(map[string]struct{}, len(c.tautologyDocs))
	for _, id := range c.tautologyDocs {
		result[id] = struct{}{}
	}
	if c.nClauses == 0 {
		return c.finish(result, false, 0, start)
	}

	// Private per-call state, seeded from the container templates.
	candidates := c.all.Clone()
	remaining := make([]int, len(c.literalCounts))
	copy(remaining, c.literalCounts)
	formulaRefs := make([]int, len(c.formulaRefs))
	copy(formulaRefs, c.formulaRefs)
	satisfied := make([]bool, len(c.formulaClauses))

	hadError := false
	evaluated := 0

	for _, entry := range c.order {
		// Skip predicates with no live clause left: the key early
		// termination that avoids needless attribute lookups.
		if candidates.IntersectionCardinality(entry.related) == 0 {
			continue
		}

		v, err := entry.pred.Evaluate(b)
		evaluated++
		if err != nil {
			hadError = true
			if mode == Strict {
				return c.finish(result, true, evaluated, start)
			}
			// The affected formulas can neither match nor eliminate for
			// this request; unrelated predicates keep going.
			candidates.InPlaceDifference(entry.errorScope)
			if candidates.None() {
				break
			}
			continue
		}

		satisfiable, unsatisfiable := entry.pos, entry.neg
		if !v {
			satisfiable, unsatisfiable = entry.neg, entry.pos
		}

		candidates.InPlaceDifference(unsatisfiable)

		for cid, ok := satisfiable.NextSet(0); ok; cid, ok = satisfiable.NextSet(cid + 1) {
			if !candidates.Test(cid) {
				continue
			}
			remaining[cid]--
			if remaining[cid] > 0 {
				continue
			}
			// Last unresolved literal: the clause is fully satisfied.
			for _, id := range c.clauseDocs[cid] {
				result[id] = struct{}{}
			}
			candidates.Clear(cid)
			c.retireFormulas(cid, candidates, formulaRefs, satisfied)
		}

		if candidates.None() {
			break
		}
	}

	return c.finish(result, hadError, evaluated, start)
}

// retireFormulas marks every formula containing the satisfied clause as
// matched and removes clauses that no unsatisfied formula references
// anymore: their literals can no longer change the outcome.
func (c *Container) retireFormulas(cid uint, candidates *bitset.BitSet, formulaRefs []int, satisfied []bool) {
	for _, fid := range c.clauseFormulas[cid] {
		if satisfied[fid] {
			continue
		}
		satisfied[fid] = true
		clauses := c.formulaClauses[fid]
		for other, ok := clauses.NextSet(0); ok; other, ok = clauses.NextSet(other + 1) {
			formulaRefs[other]--
			if other != cid && formulaRefs[other] <= 0 && candidates.Test(other) {
				candidates.Clear(other)
			}
		}
	}
}

func (c *Container) finish(ids map[string]struct{}, hadError bool, evaluated int, start time.Time) *types.RetrievalResult {
	res := types.NewRetrievalResult(ids, hadError)
	observeMatch(time.Since(start), evaluated, len(res.DocumentIDs), hadError)
	return res
}
