// Package cel provides the predicate evaluation layer: CEL expression
// compilation, constant detection, and the evaluation context that target
// predicates are interpreted against.
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/authz-engine/prp-core/internal/canonical"
	prptypes "github.com/authz-engine/prp-core/pkg/types"
)

// Context is the evaluation context for target predicates: the CEL
// environment plus the global variable bindings available to every
// expression. A Context is immutable once created; swapping contexts is
// the live index's concern.
type Context struct {
	env       *cel.Env
	variables map[string]interface{}
	programs  sync.Map // map[string]*Predicate - compiled predicate cache
}

// NewContext creates an evaluation context with the retrieval-specific
// variable declarations and helper functions. The variables map is
// exposed to expressions under the "variables" identifier.
func NewContext(variables map[string]interface{}) (*Context, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("environment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("variables", cel.MapType(cel.StringType, cel.DynType)),

		// hasRole(subject, role) -> bool
		cel.Function("hasRole",
			cel.Overload("hasRole_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasRoleImpl),
			),
		),
		// isOwner(subject, resource) -> bool
		cel.Function("isOwner",
			cel.Overload("isOwner_map_map",
				[]*cel.Type{
					cel.MapType(cel.StringType, cel.DynType),
					cel.MapType(cel.StringType, cel.DynType),
				},
				cel.BoolType,
				cel.BinaryBinding(isOwnerImpl),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	if variables == nil {
		variables = map[string]interface{}{}
	}

	return &Context{env: env, variables: variables}, nil
}

// Variables returns the global variable bindings of this context.
func (c *Context) Variables() map[string]interface{} {
	return c.variables
}

// CompileFunc adapts Compile to the canonical builder's leaf-compiler
// signature.
func (c *Context) CompileFunc() canonical.CompileFunc {
	return func(expr string) (canonical.Predicate, error) {
		p, err := c.Compile(expr)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Compile compiles a leaf expression into a Predicate, caching the result
// per context. Expressions that reference no request variables are
// evaluated once at compile time and folded to a constant.
func (c *Context) Compile(expr string) (*Predicate, error) {
	if cached, ok := c.programs.Load(expr); ok {
		return cached.(*Predicate), nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation of %q failed: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q must return bool, got %v", expr, ast.OutputType())
	}

	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program creation for %q failed: %w", expr, err)
	}

	pred := &Predicate{ctx: c, source: expr, prog: prog}

	if !referencesIdent(ast) {
		// Static expression: fold at compile time.
		v, err := pred.Evaluate(&prptypes.Bindings{})
		if err != nil {
			return nil, fmt.Errorf("constant folding of %q failed: %w", expr, err)
		}
		pred.constant = true
		pred.value = v
	}

	c.programs.Store(expr, pred)
	return pred, nil
}

// referencesIdent reports whether the checked expression references any
// declared identifier. Function references carry overload ids; bare
// identifier references do not.
func referencesIdent(ast *cel.Ast) bool {
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		// Without reference information, assume the expression is dynamic.
		return true
	}
	for _, r := range checked.GetReferenceMap() {
		if len(r.GetOverloadId()) == 0 && isIdentReference(r) {
			return true
		}
	}
	return false
}

func isIdentReference(r *exprpb.Reference) bool {
	// Enum and constant references resolve to a value at check time.
	return r.GetValue() == nil
}

// Predicate is one compiled, indivisible boolean sub-condition of a
// target expression. Identity is the canonical source string.
type Predicate struct {
	ctx      *Context
	source   string
	prog     cel.Program
	constant bool
	value    bool
}

// Fingerprint identifies the expression structure for deduplication.
func (p *Predicate) Fingerprint() string {
	return p.source
}

// IsConstant reports whether the predicate's value is fixed at compile
// time.
func (p *Predicate) IsConstant() bool {
	return p.constant
}

// ConstantValue returns the compile-time value of a constant predicate.
func (p *Predicate) ConstantValue() bool {
	return p.value
}

// Evaluate resolves the predicate against the request bindings and the
// context's global variables.
func (p *Predicate) Evaluate(b *prptypes.Bindings) (bool, error) {
	if p.constant {
		return p.value, nil
	}
	if b == nil {
		b = &prptypes.Bindings{}
	}

	vars := map[string]interface{}{
		"subject":     nonNil(b.Subject),
		"action":      nonNil(b.Action),
		"resource":    nonNil(b.Resource),
		"environment": nonNil(b.Environment),
		"variables":   p.ctx.variables,
	}

	result, _, err := p.prog.Eval(vars)
	if err != nil {
		return false, &prptypes.EvaluationError{Expression: p.source, Err: err}
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, &prptypes.EvaluationError{
			Expression: p.source,
			Err:        fmt.Errorf("expression did not return bool, got %T", result.Value()),
		}
	}
	return boolVal, nil
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func hasRoleImpl(lhs, rhs ref.Val) ref.Val {
	subjectMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	role, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}

	switch roles := subjectMap["roles"].(type) {
	case []interface{}:
		for _, r := range roles {
			if r == role {
				return types.True
			}
		}
	case []string:
		for _, r := range roles {
			if r == role {
				return types.True
			}
		}
	}
	return types.False
}

func isOwnerImpl(lhs, rhs ref.Val) ref.Val {
	subjectMap, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	resourceMap, ok := rhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}

	subjectID, _ := subjectMap["id"].(string)
	if ownerID, ok := resourceMap["ownerId"].(string); ok {
		return types.Bool(subjectID != "" && subjectID == ownerID)
	}
	if attrs, ok := resourceMap["attributes"].(map[string]interface{}); ok {
		if ownerID, ok := attrs["ownerId"].(string); ok {
			return types.Bool(subjectID != "" && subjectID == ownerID)
		}
	}
	return types.False
}
