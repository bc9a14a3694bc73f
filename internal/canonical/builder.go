package canonical

import (
	"fmt"

	"github.com/authz-engine/prp-core/pkg/types"
)

// CompileFunc turns a leaf expression into a predicate. It is supplied by
// the evaluation layer; the builder treats leaves as opaque.
type CompileFunc func(expr string) (Predicate, error)

// Builder compiles target-expression trees into canonical disjunctive
// formulas. Predicates are interned by fingerprint so that identical
// sub-conditions across documents share one predicate.
type Builder struct {
	compile CompileFunc
	intern  map[string]Predicate
}

// NewBuilder creates a formula builder around a leaf compiler.
func NewBuilder(compile CompileFunc) *Builder {
	return &Builder{
		compile: compile,
		intern:  make(map[string]Predicate),
	}
}

// Build canonicalizes a target-expression tree. A nil target is the
// universal tautology. Structural errors and leaf compilation failures
// are returned as-is; the caller attributes them to the document.
func (b *Builder) Build(target *types.TargetNode) (*Formula, error) {
	if target == nil {
		return Tautology(), nil
	}
	f, err := b.build(target)
	if err != nil {
		return nil, err
	}
	return f.Reduce(), nil
}

func (b *Builder) build(node *types.TargetNode) (*Formula, error) {
	switch node.Kind {
	case types.NodeLeaf:
		return b.buildLeaf(node)

	case types.NodeAnd:
		return b.buildJunction(node, (*Formula).Distribute)

	case types.NodeOr:
		return b.buildJunction(node, (*Formula).Combine)

	case types.NodeNot:
		if node.Child == nil {
			return nil, fmt.Errorf("not node has no child")
		}
		child, err := b.build(node.Child)
		if err != nil {
			return nil, err
		}
		return child.Negate(), nil

	case types.NodeGroup:
		// Transparent grouping: unwrap and recurse.
		if node.Child == nil {
			return nil, fmt.Errorf("group node has no child")
		}
		return b.build(node.Child)

	default:
		return nil, fmt.Errorf("unknown target node kind %d", node.Kind)
	}
}

func (b *Builder) buildLeaf(node *types.TargetNode) (*Formula, error) {
	if node.Expr == "" {
		return nil, fmt.Errorf("leaf node has no expression")
	}
	pred, err := b.compile(node.Expr)
	if err != nil {
		return nil, err
	}
	if cached, ok := b.intern[pred.Fingerprint()]; ok {
		pred = cached
	} else {
		b.intern[pred.Fingerprint()] = pred
	}
	return mustFormula([]*Clause{mustClause([]Literal{Pos(pred)})}), nil
}

func (b *Builder) buildJunction(node *types.TargetNode, merge func(*Formula, *Formula) *Formula) (*Formula, error) {
	if len(node.Children) == 0 {
		return nil, fmt.Errorf("%s node has no children", node.Kind)
	}
	var acc *Formula
	for _, child := range node.Children {
		if child == nil {
			return nil, fmt.Errorf("%s node has a nil child", node.Kind)
		}
		f, err := b.build(child)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = f
		} else {
			acc = merge(acc, f)
		}
	}
	return acc, nil
}
