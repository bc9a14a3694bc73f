package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/authz-engine/prp-core/internal/prp"
)

// ReloadedEvent reports one completed directory synchronization.
type ReloadedEvent struct {
	Timestamp   time.Time
	Published   []string
	Unpublished []string
	Error       error
}

// FileWatcher monitors a policy directory and applies changes to the
// live index as publish/unpublish deltas. Events are debounced so a
// burst of writes triggers a single synchronization.
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	loader          *Loader
	live            *prp.LiveIndex
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
	stopped         bool
}

// NewFileWatcher creates a watcher for a policy directory.
func NewFileWatcher(path string, live *prp.LiveIndex, loader *Loader, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            path,
		loader:          loader,
		live:            live,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the policy directory for changes.
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	if err := fw.watcher.Add(fw.path); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("Starting policy file watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Policy file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if isPolicyFile(filepath.Base(event.Name)) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// handleEvent resets the debounce timer; the synchronization runs once
// the directory has been quiet for the debounce window.
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("Policy file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.Sync)
}

// Sync loads the directory and reconciles the live index with it:
// unknown documents are published, missing ones unpublished, and
// documents whose source changed are republished.
func (fw *FileWatcher) Sync() {
	start := time.Now()
	fw.logger.Info("Synchronizing policies from disk", zap.String("path", fw.path))

	docs, err := fw.loader.LoadFromDirectory(fw.path)
	if err != nil {
		fw.logger.Error("Failed to load policies",
			zap.String("path", fw.path),
			zap.Error(err),
		)
		observeReload(time.Since(start), 0, err)
		fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	onDisk := make(map[string]bool, len(docs))
	var published, unpublished []string

	for _, doc := range docs {
		onDisk[doc.ID] = true

		if current, ok := fw.live.Document(doc.ID); ok {
			if current.Source == doc.Source {
				continue
			}
			if err := fw.live.Unpublish(doc.ID); err != nil {
				fw.fail(start, doc.ID, err)
				return
			}
			unpublished = append(unpublished, doc.ID)
		}

		if err := fw.live.Publish(doc); err != nil {
			fw.fail(start, doc.ID, err)
			return
		}
		published = append(published, doc.ID)
	}

	for _, doc := range fw.live.Documents() {
		if onDisk[doc.ID] {
			continue
		}
		if err := fw.live.Unpublish(doc.ID); err != nil {
			fw.fail(start, doc.ID, err)
			return
		}
		unpublished = append(unpublished, doc.ID)
	}

	fw.logger.Info("Policies synchronized",
		zap.Int("total", len(docs)),
		zap.Strings("published", published),
		zap.Strings("unpublished", unpublished),
	)

	observeReload(time.Since(start), len(docs), nil)
	fw.emit(ReloadedEvent{
		Timestamp:   time.Now(),
		Published:   published,
		Unpublished: unpublished,
	})
}

func (fw *FileWatcher) fail(start time.Time, id string, err error) {
	err = fmt.Errorf("synchronizing document %q: %w", id, err)
	fw.logger.Error("Policy synchronization failed", zap.Error(err))
	observeReload(time.Since(start), 0, err)
	fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
}

// emit delivers an event without blocking the watcher when nobody is
// draining the channel.
func (fw *FileWatcher) emit(ev ReloadedEvent) {
	select {
	case fw.eventChan <- ev:
	default:
		fw.logger.Debug("Dropping reload event, channel full")
	}
}

// EventChan returns a channel delivering reload events.
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped || !fw.isWatching {
		return nil
	}
	fw.stopped = true

	close(fw.stopChan)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	return nil
}

// SetDebounceTimeout sets the debounce window for file changes.
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching reports whether the watcher is currently active.
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.isWatching
}
