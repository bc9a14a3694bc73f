package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/prp-core/pkg/types"
)

func TestParse_LeafTarget(t *testing.T) {
	doc, err := Parse([]byte(`
id: read-reports
description: Grants analysts read access to reports
target:
  expr: 'action.name == "read"'
`))
	require.NoError(t, err)

	assert.Equal(t, "read-reports", doc.ID)
	assert.Equal(t, "Grants analysts read access to reports", doc.Description)
	require.NotNil(t, doc.Target)
	assert.Equal(t, types.NodeLeaf, doc.Target.Kind)
	assert.Equal(t, `action.name == "read"`, doc.Target.Expr)
}

func TestParse_NestedTarget(t *testing.T) {
	doc, err := Parse([]byte(`
id: nested
target:
  allOf:
    - expr: 'action.name == "read"'
    - anyOf:
        - expr: 'subject.role == "admin"'
        - not:
            expr: 'resource.classified'
`))
	require.NoError(t, err)

	target := doc.Target
	require.Equal(t, types.NodeAnd, target.Kind)
	require.Len(t, target.Children, 2)
	assert.Equal(t, types.NodeLeaf, target.Children[0].Kind)

	or := target.Children[1]
	require.Equal(t, types.NodeOr, or.Kind)
	require.Len(t, or.Children, 2)
	assert.Equal(t, types.NodeNot, or.Children[1].Kind)
	assert.Equal(t, "resource.classified", or.Children[1].Child.Expr)
}

func TestParse_GroupTarget(t *testing.T) {
	doc, err := Parse([]byte(`
id: grouped
target:
  not:
    group:
      anyOf:
        - expr: a
        - expr: b
`))
	require.NoError(t, err)
	require.Equal(t, types.NodeNot, doc.Target.Kind)
	assert.Equal(t, types.NodeGroup, doc.Target.Child.Kind)
}

func TestParse_MissingTargetMeansTautology(t *testing.T) {
	doc, err := Parse([]byte(`id: open-door`))
	require.NoError(t, err)
	assert.Nil(t, doc.Target)
}

func TestParse_JSONDocument(t *testing.T) {
	doc, err := Parse([]byte(`{"id": "json-doc", "target": {"expr": "a && b"}}`))
	require.NoError(t, err)
	assert.Equal(t, "json-doc", doc.ID)
	assert.Equal(t, "a && b", doc.Target.Expr)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"missing id":          `target: {expr: a}`,
		"ambiguous node":      "id: x\ntarget:\n  expr: a\n  allOf:\n    - expr: b",
		"empty node":          "id: x\ntarget: {}",
		"null child in allOf": "id: x\ntarget:\n  allOf:\n    - expr: a\n    -",
		"not yaml":            `{{{`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile_KeepsSource(t *testing.T) {
	dir := t.TempDir()
	content := "id: d1\ntarget:\n  expr: a\n"
	path := filepath.Join(dir, "d1.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := NewLoader(nil).LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, doc.Source)
}

func TestLoadFromDirectory_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"),
		[]byte("id: good\ntarget:\n  expr: a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("target: {expr: no-id}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("not a policy"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := NewLoader(nil).LoadFromDirectory(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].ID)
}

func TestLoadFromDirectory_MissingDirectory(t *testing.T) {
	_, err := NewLoader(nil).LoadFromDirectory("/does/not/exist")
	assert.Error(t, err)
}
