// Package prp provides the policy retrieval point: a live, updatable
// view over published policy documents backed by immutable compiled
// index snapshots. Retrieval is lock-free on the hot path; updates
// rebuild the snapshot in the background and swap it in atomically.
package prp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/internal/canonical"
	"github.com/authz-engine/prp-core/internal/index"
	"github.com/authz-engine/prp-core/pkg/types"
)

// ErrDuplicateDocument is returned when a publish reuses the ID of an
// already published document.
var ErrDuplicateDocument = errors.New("document id already published")

// ErrUnknownDocument is returned when an unpublish names a document that
// was never published.
var ErrUnknownDocument = errors.New("unknown document id")

const (
	stateReplaying int32 = iota
	stateLive
)

// Config carries the collaborators of a live index. Zero values select
// sensible defaults except Compile, which is required.
type Config struct {
	// Compile turns leaf expressions into predicates. Required.
	Compile canonical.CompileFunc

	// Strategy orders predicate evaluation; nil selects the scoring
	// heuristic.
	Strategy index.OrderStrategy

	// Mode selects strict or graceful handling of predicate failures.
	Mode index.Mode

	Logger *zap.Logger
}

// LiveIndex is the updatable document index. It starts in replay state,
// accepting publishes without building snapshots; MakeLive compiles the
// first snapshot and enables retrieval. The transition is one-way.
type LiveIndex struct {
	cfg    Config
	logger *zap.Logger

	state    atomic.Int32
	liveOnce sync.Once

	container atomic.Pointer[index.Container]
	revision  atomic.Uint64

	// ctxMu serializes evaluation-context swaps against rebuilds.
	// Retrieval never takes it; matches run against the loaded snapshot.
	ctxMu   sync.RWMutex
	builder *canonical.Builder

	// mu guards the authoritative document state.
	mu       sync.Mutex
	docs     map[string]*types.Document
	formulas map[string]*canonical.Formula
	unusable map[string]error

	dirty    atomic.Bool
	draining atomic.Bool
}

// New creates a live index in replay state.
func New(cfg Config) (*LiveIndex, error) {
	if cfg.Compile == nil {
		return nil, fmt.Errorf("live index requires a leaf compiler")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &LiveIndex{
		cfg:      cfg,
		logger:   cfg.Logger,
		builder:  canonical.NewBuilder(cfg.Compile),
		docs:     make(map[string]*types.Document),
		formulas: make(map[string]*canonical.Formula),
		unusable: make(map[string]error),
	}, nil
}

// Publish adds a document. A target analysis failure does not reject the
// publish: the document is recorded as unusable and reported by every
// subsequent retrieval until it is unpublished or replaced by a context
// update that makes it analyzable.
func (l *LiveIndex) Publish(doc *types.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document must have an id")
	}

	l.ctxMu.RLock()
	l.mu.Lock()
	if _, ok := l.docs[doc.ID]; ok {
		l.mu.Unlock()
		l.ctxMu.RUnlock()
		return fmt.Errorf("publish %q: %w", doc.ID, ErrDuplicateDocument)
	}

	l.docs[doc.ID] = doc
	l.analyzeLocked(doc)
	l.mu.Unlock()
	l.ctxMu.RUnlock()

	l.logger.Debug("Document published", zap.String("document", doc.ID))
	l.scheduleRebuild()
	return nil
}

// Unpublish removes a document by ID.
func (l *LiveIndex) Unpublish(id string) error {
	l.mu.Lock()
	if _, ok := l.docs[id]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("unpublish %q: %w", id, ErrUnknownDocument)
	}
	delete(l.docs, id)
	delete(l.formulas, id)
	delete(l.unusable, id)
	l.mu.Unlock()

	l.logger.Debug("Document unpublished", zap.String("document", id))
	l.scheduleRebuild()
	return nil
}

// UpdateContext swaps the leaf compiler, typically after the variable
// environment changed, and re-analyzes every published document against
// it.
func (l *LiveIndex) UpdateContext(compile canonical.CompileFunc) error {
	if compile == nil {
		return fmt.Errorf("context update requires a leaf compiler")
	}

	l.ctxMu.Lock()
	l.builder = canonical.NewBuilder(compile)
	l.mu.Lock()
	l.formulas = make(map[string]*canonical.Formula, len(l.docs))
	l.unusable = make(map[string]error)
	for _, doc := range l.docs {
		l.analyzeLocked(doc)
	}
	l.mu.Unlock()
	l.ctxMu.Unlock()

	l.logger.Info("Evaluation context updated", zap.Int("documents", len(l.docs)))
	l.scheduleRebuild()
	return nil
}

// MakeLive compiles the first snapshot and enables retrieval. Further
// calls are no-ops.
func (l *LiveIndex) MakeLive() {
	l.liveOnce.Do(func() {
		l.rebuild()
		l.state.Store(stateLive)
		l.logger.Info("Index is live",
			zap.Int("documents", l.container.Load().DocumentCount()),
		)
		// Publishes racing the transition may have queued a rebuild that
		// no drainer owned while still replaying.
		if l.dirty.Load() {
			l.scheduleRebuild()
		}
	})
}

// Ready reports whether MakeLive has completed.
func (l *LiveIndex) Ready() bool {
	return l.state.Load() == stateLive
}

// Retrieve matches the request bindings against the current snapshot.
// Before MakeLive it fails with ErrNotReady.
func (l *LiveIndex) Retrieve(ctx context.Context, b *types.Bindings) (*types.RetrievalResult, error) {
	if l.state.Load() != stateLive {
		return nil, types.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.container.Load().Match(b, l.cfg.Mode), nil
}

// Documents returns a snapshot of the published documents.
func (l *LiveIndex) Documents() []*types.Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.Document, 0, len(l.docs))
	for _, doc := range l.docs {
		out = append(out, doc)
	}
	return out
}

// Document returns a published document by ID.
func (l *LiveIndex) Document(id string) (*types.Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[id]
	return doc, ok
}

// Formula returns the canonical target formula of a published document.
// It is absent for documents whose analysis failed.
func (l *LiveIndex) Formula(id string) (*canonical.Formula, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.formulas[id]
	return f, ok
}

// Unusable returns the documents excluded from the current snapshot by
// target analysis failures. Nil before the index is live.
func (l *LiveIndex) Unusable() map[string]error {
	c := l.container.Load()
	if c == nil {
		return nil
	}
	return c.Unusable()
}

// Revision returns a counter incremented on every snapshot swap. Callers
// compose it into cache keys so stale retrieval results age out on
// update.
func (l *LiveIndex) Revision() uint64 {
	return l.revision.Load()
}

// analyzeLocked canonicalizes one document's target. Callers hold both
// ctxMu (read or write) and mu.
func (l *LiveIndex) analyzeLocked(doc *types.Document) {
	f, err := l.builder.Build(doc.Target)
	if err != nil {
		l.unusable[doc.ID] = &types.AnalysisError{DocumentID: doc.ID, Err: err}
		l.logger.Warn("Target analysis failed",
			zap.String("document", doc.ID),
			zap.Error(err),
		)
		return
	}
	l.formulas[doc.ID] = f
}

// scheduleRebuild requests a snapshot rebuild. Exactly one caller drains
// at a time; the post-release re-check guarantees no update is lost when
// a producer sets the flag between the drainer's last pass and its
// release of ownership.
func (l *LiveIndex) scheduleRebuild() {
	l.dirty.Store(true)
	if l.state.Load() != stateLive {
		return
	}
	for {
		if !l.draining.CompareAndSwap(false, true) {
			return
		}
		for l.dirty.Swap(false) {
			l.rebuild()
		}
		l.draining.Store(false)
		if !l.dirty.Load() {
			return
		}
	}
}

// rebuild compiles a fresh snapshot from the authoritative state and
// swaps it in.
func (l *LiveIndex) rebuild() {
	l.ctxMu.RLock()
	l.mu.Lock()
	in := index.Input{
		Formulas: make(map[string]*canonical.Formula, len(l.formulas)),
		Unusable: make(map[string]error, len(l.unusable)),
	}
	for id, f := range l.formulas {
		in.Formulas[id] = f
	}
	for id, err := range l.unusable {
		in.Unusable[id] = err
	}
	l.mu.Unlock()
	l.ctxMu.RUnlock()

	c := index.NewBuilder(l.cfg.Strategy, l.logger).Build(in)
	l.container.Store(c)
	l.revision.Add(1)
}
