// Package types provides shared types for the policy retrieval engine
package types

import (
	"sort"
)

// NodeKind identifies the variant of a target-expression tree node.
type NodeKind int

const (
	// NodeLeaf is an opaque boolean sub-expression, handed to the
	// predicate evaluator as-is.
	NodeLeaf NodeKind = iota
	// NodeAnd is a conjunction of two or more children.
	NodeAnd
	// NodeOr is a disjunction of two or more children.
	NodeOr
	// NodeNot negates its single child.
	NodeNot
	// NodeGroup is a transparent grouping wrapper around a single child.
	NodeGroup
)

// String returns the node kind name for logs and errors.
func (k NodeKind) String() string {
	switch k {
	case NodeLeaf:
		return "leaf"
	case NodeAnd:
		return "and"
	case NodeOr:
		return "or"
	case NodeNot:
		return "not"
	case NodeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// TargetNode is one node of a policy document's target-expression tree.
// The tree is a tagged union: Expr is set for leaf nodes, Children for
// and/or nodes, Child for not/group nodes.
type TargetNode struct {
	Kind     NodeKind      `json:"kind"`
	Expr     string        `json:"expr,omitempty"`
	Children []*TargetNode `json:"children,omitempty"`
	Child    *TargetNode   `json:"child,omitempty"`
}

// Leaf creates a leaf node wrapping an opaque expression.
func Leaf(expr string) *TargetNode {
	return &TargetNode{Kind: NodeLeaf, Expr: expr}
}

// And creates a conjunction node.
func And(children ...*TargetNode) *TargetNode {
	return &TargetNode{Kind: NodeAnd, Children: children}
}

// Or creates a disjunction node.
func Or(children ...*TargetNode) *TargetNode {
	return &TargetNode{Kind: NodeOr, Children: children}
}

// Not creates a negation node.
func Not(child *TargetNode) *TargetNode {
	return &TargetNode{Kind: NodeNot, Child: child}
}

// Group creates a transparent grouping node.
func Group(child *TargetNode) *TargetNode {
	return &TargetNode{Kind: NodeGroup, Child: child}
}

// Document is one published policy document. A nil Target means the
// document applies to every request.
type Document struct {
	ID          string      `json:"id" yaml:"id"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Source      string      `json:"source,omitempty" yaml:"source,omitempty"`
	Target      *TargetNode `json:"target,omitempty" yaml:"-"`
}

// Bindings carries the per-request variable bindings that target
// predicates are evaluated against.
type Bindings struct {
	Subject     map[string]interface{} `json:"subject"`
	Action      map[string]interface{} `json:"action"`
	Resource    map[string]interface{} `json:"resource"`
	Environment map[string]interface{} `json:"environment"`
}

// RetrievalResult is the outcome of one retrieval call: the candidate
// document set and a flag signalling that the result may be incomplete
// because one or more predicate evaluations failed.
type RetrievalResult struct {
	DocumentIDs []string `json:"documentIds"`
	HadError    bool     `json:"hadError"`
}

// NewRetrievalResult builds a result with a sorted, deduplicated ID set.
func NewRetrievalResult(ids map[string]struct{}, hadError bool) *RetrievalResult {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return &RetrievalResult{DocumentIDs: out, HadError: hadError}
}

// Contains reports whether the result includes the given document.
func (r *RetrievalResult) Contains(id string) bool {
	for _, d := range r.DocumentIDs {
		if d == id {
			return true
		}
	}
	return false
}
