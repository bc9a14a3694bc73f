// Package policy loads policy documents from disk and keeps the live
// index synchronized with the backing directory.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/authz-engine/prp-core/pkg/types"
)

// targetSpec is the file representation of a target-expression tree.
// Exactly one field must be set per node.
type targetSpec struct {
	Expr  string        `yaml:"expr,omitempty" json:"expr,omitempty"`
	AllOf []*targetSpec `yaml:"allOf,omitempty" json:"allOf,omitempty"`
	AnyOf []*targetSpec `yaml:"anyOf,omitempty" json:"anyOf,omitempty"`
	Not   *targetSpec   `yaml:"not,omitempty" json:"not,omitempty"`
	Group *targetSpec   `yaml:"group,omitempty" json:"group,omitempty"`
}

func (s *targetSpec) toNode() (*types.TargetNode, error) {
	set := 0
	if s.Expr != "" {
		set++
	}
	if len(s.AllOf) > 0 {
		set++
	}
	if len(s.AnyOf) > 0 {
		set++
	}
	if s.Not != nil {
		set++
	}
	if s.Group != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("target node must set exactly one of expr, allOf, anyOf, not, group")
	}

	switch {
	case s.Expr != "":
		return types.Leaf(s.Expr), nil

	case len(s.AllOf) > 0:
		children, err := toNodes(s.AllOf)
		if err != nil {
			return nil, err
		}
		return types.And(children...), nil

	case len(s.AnyOf) > 0:
		children, err := toNodes(s.AnyOf)
		if err != nil {
			return nil, err
		}
		return types.Or(children...), nil

	case s.Not != nil:
		child, err := s.Not.toNode()
		if err != nil {
			return nil, err
		}
		return types.Not(child), nil

	default:
		child, err := s.Group.toNode()
		if err != nil {
			return nil, err
		}
		return types.Group(child), nil
	}
}

func toNodes(specs []*targetSpec) ([]*types.TargetNode, error) {
	nodes := make([]*types.TargetNode, 0, len(specs))
	for i, spec := range specs {
		if spec == nil {
			return nil, fmt.Errorf("child %d is null", i)
		}
		node, err := spec.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// documentSpec is the file representation of one policy document. A
// missing target means the document applies to every request.
type documentSpec struct {
	ID          string      `yaml:"id" json:"id"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Target      *targetSpec `yaml:"target,omitempty" json:"target,omitempty"`
}

// Loader parses policy document files.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a document loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFromDirectory loads every policy file in a directory. Files that
// fail to parse are logged and skipped so one bad file cannot take the
// whole set down.
func (l *Loader) LoadFromDirectory(path string) ([]*types.Document, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var docs []*types.Document
	for _, entry := range entries {
		if entry.IsDir() || !isPolicyFile(entry.Name()) {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		doc, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("Failed to load policy file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// LoadFromFile loads a single policy document file. YAML and JSON are
// both accepted; JSON parses as a YAML subset.
func (l *Loader) LoadFromFile(filePath string) (*types.Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	doc, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(filePath), err)
	}
	return doc, nil
}

// Parse decodes one policy document from YAML or JSON bytes.
func Parse(content []byte) (*types.Document, error) {
	spec := &documentSpec{}
	if err := yaml.Unmarshal(content, spec); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	if spec.ID == "" {
		return nil, fmt.Errorf("policy document has no id")
	}

	doc := &types.Document{
		ID:          spec.ID,
		Description: spec.Description,
		Source:      string(content),
	}
	if spec.Target != nil {
		target, err := spec.Target.toNode()
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", spec.ID, err)
		}
		doc.Target = target
	}
	return doc, nil
}

func isPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
