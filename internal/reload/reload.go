// Package reload watches configuration files and re-applies them on change.
package reload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/navguard/internal/logging"
)

// DefaultDebounce is how long a watcher waits after the last write before
// reloading.
const DefaultDebounce = 500 * time.Millisecond

// Target is one watched file and the function that re-applies it.
type Target struct {
	Name   string
	Path   string
	Reload func() error
}

// Watcher triggers hot-reload of policy, denylist and rule files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	targets  map[string]Target
	debounce time.Duration
	log      *zap.Logger
}

// New creates a file watcher for the given targets. Targets whose files do
// not exist are skipped.
func New(targets []Target, log *zap.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := make(map[string]Target)
	for _, t := range targets {
		if t.Path == "" || t.Reload == nil {
			continue
		}
		if _, err := os.Stat(t.Path); err != nil {
			continue
		}
		if err := watcher.Add(t.Path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", t.Path, err)
		}
		watched[t.Path] = t
	}

	return &Watcher{
		watcher:  watcher,
		targets:  watched,
		debounce: DefaultDebounce,
		log:      logging.OrNop(log),
	}, nil
}

// Watched returns the number of files being watched.
func (w *Watcher) Watched() int {
	return len(w.targets)
}

// Run watches for file changes and reloads the matching target. Blocks
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			target, ok := w.targets[event.Name]
			if !ok {
				continue
			}
			if t := timers[event.Name]; t != nil {
				t.Stop()
			}
			timers[event.Name] = time.AfterFunc(w.debounce, func() {
				if err := target.Reload(); err != nil {
					w.log.Error("hot-reload failed", zap.String("target", target.Name), zap.String("path", target.Path), zap.Error(err))
					return
				}
				w.log.Info("hot-reload", zap.String("target", target.Name), zap.String("path", target.Path))
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
