package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ProfileWatcher re-applies the profile seed file whenever it changes on disk
type ProfileWatcher struct {
	engine   *ProfileEngine
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	lastHash string
	timer    *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProfileWatcher creates a watcher for a seed file
func NewProfileWatcher(engine *ProfileEngine, path string, logger *logrus.Logger) (*ProfileWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &ProfileWatcher{
		engine:   engine,
		path:     filepath.Clean(path),
		watcher:  fsWatcher,
		debounce: 300 * time.Millisecond,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start applies the seed once and begins watching. Editors often replace the
// file, so the parent directory is watched rather than the file itself.
func (w *ProfileWatcher) Start(ctx context.Context) error {
	if err := w.reload(ctx); err != nil {
		return err
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.processEvents(ctx)

	w.logger.Infof("Watching profile seed %s", w.path)
	return nil
}

// Stop stops the watcher
func (w *ProfileWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *ProfileWatcher) processEvents(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Profile watcher error: %v", err)
		}
	}
}

// schedule debounces bursts of events into one reload
func (w *ProfileWatcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.reload(ctx); err != nil {
			w.logger.Warnf("Profile seed not applied: %v", err)
		}
	})
}

func (w *ProfileWatcher) reload(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read profile seed: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.mu.Unlock()
	if unchanged {
		return nil
	}

	seed, err := LoadProfileSeed(w.path)
	if err != nil {
		return err
	}
	applied, err := w.engine.ApplySeed(ctx, seed)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.lastHash = hash
	w.mu.Unlock()

	w.logger.Debugf("Profile seed %s applied, %d halves changed", w.path, applied)
	return nil
}
