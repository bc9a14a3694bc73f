package policy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/internal/prp"
	"github.com/authz-engine/prp-core/pkg/types"
)

type stubPredicate struct{ expr string }

func (p *stubPredicate) Evaluate(*types.Bindings) (bool, error) { return true, nil }
func (p *stubPredicate) Fingerprint() string                    { return p.expr }
func (p *stubPredicate) IsConstant() bool                       { return false }
func (p *stubPredicate) ConstantValue() bool                    { return false }

func stubCompile(expr string) (canonical.Predicate, error) {
	return &stubPredicate{expr: expr}, nil
}

func newTestLive(t *testing.T) *prp.LiveIndex {
	t.Helper()
	live, err := prp.New(prp.Config{Compile: stubCompile})
	require.NoError(t, err)
	live.MakeLive()
	return live
}

func writePolicy(t *testing.T, dir, name, id, expr string) {
	t.Helper()
	content := "id: " + id + "\ntarget:\n  expr: '" + expr + "'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func liveIDs(live *prp.LiveIndex) []string {
	docs := live.Documents()
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestSync_PublishesNewDocuments(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.yaml", "doc-a", "a")
	writePolicy(t, dir, "b.yaml", "doc-b", "b")

	live := newTestLive(t)
	fw, err := NewFileWatcher(dir, live, NewLoader(nil), nil)
	require.NoError(t, err)

	fw.Sync()

	assert.Equal(t, []string{"doc-a", "doc-b"}, liveIDs(live))

	ev := <-fw.EventChan()
	require.NoError(t, ev.Error)
	assert.ElementsMatch(t, []string{"doc-a", "doc-b"}, ev.Published)
	assert.Empty(t, ev.Unpublished)
}

func TestSync_RemovesDeletedDocuments(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.yaml", "doc-a", "a")
	writePolicy(t, dir, "b.yaml", "doc-b", "b")

	live := newTestLive(t)
	fw, err := NewFileWatcher(dir, live, NewLoader(nil), nil)
	require.NoError(t, err)
	fw.Sync()
	<-fw.EventChan()

	require.NoError(t, os.Remove(filepath.Join(dir, "b.yaml")))
	fw.Sync()

	assert.Equal(t, []string{"doc-a"}, liveIDs(live))
	ev := <-fw.EventChan()
	assert.Equal(t, []string{"doc-b"}, ev.Unpublished)
}

func TestSync_RepublishesChangedDocuments(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.yaml", "doc-a", "old")

	live := newTestLive(t)
	fw, err := NewFileWatcher(dir, live, NewLoader(nil), nil)
	require.NoError(t, err)
	fw.Sync()
	<-fw.EventChan()
	rev := live.Revision()

	writePolicy(t, dir, "a.yaml", "doc-a", "new")
	fw.Sync()

	doc, ok := live.Document("doc-a")
	require.True(t, ok)
	assert.Contains(t, doc.Source, "new")
	assert.Greater(t, live.Revision(), rev)

	ev := <-fw.EventChan()
	assert.Equal(t, []string{"doc-a"}, ev.Published)
	assert.Equal(t, []string{"doc-a"}, ev.Unpublished)
}

func TestSync_UnchangedDocumentsUntouched(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "a.yaml", "doc-a", "a")

	live := newTestLive(t)
	fw, err := NewFileWatcher(dir, live, NewLoader(nil), nil)
	require.NoError(t, err)
	fw.Sync()
	<-fw.EventChan()
	rev := live.Revision()

	fw.Sync()
	assert.Equal(t, rev, live.Revision())

	ev := <-fw.EventChan()
	assert.Empty(t, ev.Published)
	assert.Empty(t, ev.Unpublished)
}

func TestSync_MissingDirectoryReportsError(t *testing.T) {
	live := newTestLive(t)
	fw, err := NewFileWatcher("/does/not/exist", live, NewLoader(nil), nil)
	require.NoError(t, err)

	fw.Sync()
	ev := <-fw.EventChan()
	assert.Error(t, ev.Error)
}

func TestWatch_DetectsFileChanges(t *testing.T) {
	dir := t.TempDir()
	live := newTestLive(t)
	fw, err := NewFileWatcher(dir, live, NewLoader(nil), nil)
	require.NoError(t, err)
	fw.SetDebounceTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Watch(ctx))
	defer fw.Stop()

	assert.True(t, fw.IsWatching())
	assert.Error(t, fw.Watch(ctx), "second watch must be rejected")

	writePolicy(t, dir, "a.yaml", "doc-a", "a")

	assert.Eventually(t, func() bool {
		_, ok := live.Document("doc-a")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(dir, newTestLive(t), NewLoader(nil), nil)
	require.NoError(t, err)

	require.NoError(t, fw.Watch(context.Background()))
	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
