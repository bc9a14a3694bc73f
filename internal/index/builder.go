package index

import (
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/internal/canonical"
)

// Input is the material a container is compiled from: the canonical
// formulas keyed by document ID, and the documents whose target
// analysis failed.
type Input struct {
	Formulas map[string]*canonical.Formula
	Unusable map[string]error
}

// Builder compiles an Input into an immutable Container.
type Builder struct {
	strategy OrderStrategy
	logger   *zap.Logger
}

// NewBuilder creates an index builder. A nil strategy selects the
// default scoring order; a nil logger is replaced with a nop logger.
func NewBuilder(strategy OrderStrategy, logger *zap.Logger) *Builder {
	if strategy == nil {
		strategy = DefaultOrder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{strategy: strategy, logger: logger}
}

// formulaGroup collects the documents sharing one canonical formula.
type formulaGroup struct {
	formula *canonical.Formula
	docs    []string
}

// Build compiles the container. Contradictory formulas are dropped,
// tautological ones short-cut the clause machinery, and analysis failures
// are carried through for reporting.
func (b *Builder) Build(in Input) *Container {
	start := time.Now()

	groups := groupByFormula(in)

	c := &Container{
		unusable: in.Unusable,
	}
	if c.unusable == nil {
		c.unusable = map[string]error{}
	}

	var volatile []*formulaGroup
	for _, g := range groups {
		if g.formula.IsImmutable() {
			if g.formula.ConstantValue() {
				c.tautologyDocs = append(c.tautologyDocs, g.docs...)
			} else {
				b.logger.Debug("Dropping contradictory target formula",
					zap.Strings("documents", g.docs),
				)
			}
			continue
		}
		volatile = append(volatile, g)
	}

	clauseIDs := b.assignClauses(c, volatile)
	b.indexPredicates(c, volatile, clauseIDs)

	for id, err := range c.unusable {
		b.logger.Warn("Document excluded from index",
			zap.String("document", id),
			zap.Error(err),
		)
	}

	observeBuild(time.Since(start), c.DocumentCount(), int(c.nClauses), len(c.order))
	return c
}

// groupByFormula buckets documents by structural formula equality so
// that documents with identical canonical targets share index slots.
// Iteration over the input map is order-independent because every
// downstream structure is keyed by fingerprints or dense ids.
func groupByFormula(in Input) map[string]*formulaGroup {
	groups := make(map[string]*formulaGroup, len(in.Formulas))
	for id, f := range in.Formulas {
		fp := f.Fingerprint()
		g, ok := groups[fp]
		if !ok {
			g = &formulaGroup{formula: f}
			groups[fp] = g
		}
		g.docs = append(g.docs, id)
	}
	return groups
}

// assignClauses gives every distinct clause a dense integer id and wires
// the clause/formula cross-references and auxiliary counters.
func (b *Builder) assignClauses(c *Container, volatile []*formulaGroup) map[string]uint {
	clauseIDs := make(map[string]uint)

	for fid, g := range volatile {
		clauses := g.formula.Clauses()
		mask := bitset.New(uint(len(clauseIDs) + len(clauses)))

		for _, clause := range clauses {
			fp := clause.Fingerprint()
			cid, ok := clauseIDs[fp]
			if !ok {
				cid = uint(len(clauseIDs))
				clauseIDs[fp] = cid
				c.clauseDocs = append(c.clauseDocs, nil)
				c.literalCounts = append(c.literalCounts, clause.Size())
				c.clauseFormulas = append(c.clauseFormulas, nil)
				c.formulaRefs = append(c.formulaRefs, 0)
			}
			if mask.Test(cid) {
				// Duplicate clause within one formula; reduction should
				// have removed it, but never double-count.
				continue
			}
			mask.Set(cid)
			c.clauseDocs[cid] = append(c.clauseDocs[cid], g.docs...)
			c.clauseFormulas[cid] = append(c.clauseFormulas[cid], fid)
			c.formulaRefs[cid]++
		}
		c.formulaClauses = append(c.formulaClauses, mask)
	}

	c.nClauses = uint(len(clauseIDs))
	c.all = bitset.New(c.nClauses)
	for i := uint(0); i < c.nClauses; i++ {
		c.all.Set(i)
	}
	return clauseIDs
}

// indexPredicates builds the per-predicate clause sets, the ordering
// statistics, and the heuristically ordered evaluation list.
func (b *Builder) indexPredicates(c *Container, volatile []*formulaGroup, clauseIDs map[string]uint) {
	entries := make(map[string]*predicateEntry)
	posFormulas := make(map[string]map[int]struct{})
	negFormulas := make(map[string]map[int]struct{})
	clauseSeen := make(map[string]bool)

	for fid, g := range volatile {
		for _, clause := range g.formula.Clauses() {
			fp := clause.Fingerprint()
			cid := clauseIDs[fp]

			for _, lit := range clause.Literals() {
				pfp := lit.Pred.Fingerprint()
				entry, ok := entries[pfp]
				if !ok {
					entry = &predicateEntry{
						pred: lit.Pred,
						pos:  bitset.New(c.nClauses),
						neg:  bitset.New(c.nClauses),
					}
					entries[pfp] = entry
					posFormulas[pfp] = make(map[int]struct{})
					negFormulas[pfp] = make(map[int]struct{})
				}

				// Formula-level fan-out counts distinct formulas, not raw
				// occurrences.
				if lit.Negated {
					negFormulas[pfp][fid] = struct{}{}
				} else {
					posFormulas[pfp][fid] = struct{}{}
				}

				// Clause-level statistics are collected once per distinct
				// clause.
				if clauseSeen[fp] {
					continue
				}
				if lit.Negated {
					entry.neg.Set(cid)
				} else {
					entry.pos.Set(cid)
				}
				entry.relevanceSum += 1.0 / float64(clause.Size())
				entry.occurrences++
			}
			clauseSeen[fp] = true
		}
	}

	c.order = make([]*predicateEntry, 0, len(entries))
	for pfp, entry := range entries {
		entry.posFormulas = len(posFormulas[pfp])
		entry.negFormulas = len(negFormulas[pfp])
		entry.related = entry.pos.Union(entry.neg)

		entry.errorScope = bitset.New(c.nClauses)
		for fid := range posFormulas[pfp] {
			entry.errorScope.InPlaceUnion(c.formulaClauses[fid])
		}
		for fid := range negFormulas[pfp] {
			entry.errorScope.InPlaceUnion(c.formulaClauses[fid])
		}

		c.order = append(c.order, entry)
	}

	b.strategy.Order(c.order)
}
