package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-reads a set of policy paths whenever a policy file under them
// changes.
type Watcher struct {
	paths    []string
	logger   zerolog.Logger
	debounce time.Duration

	fsw  *fsnotify.Watcher
	once sync.Once
	done chan struct{}
}

// NewWatcher subscribes to changes under paths. Directories are watched
// recursively; single files through their parent directory, since editors
// replace files on save.
func NewWatcher(logger zerolog.Logger, paths []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		paths:    paths,
		logger:   logger.With().Str("component", "policy-watcher").Logger(),
		debounce: DefaultDebounce,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			w.logger.Warn().Err(err).Str("path", p).Msg("Not watching missing policy path")
		case info.IsDir():
			err = w.addTree(p)
		default:
			err = fsw.Add(filepath.Dir(p))
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("Cannot watch policy path")
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.fsw.Add(path)
	})
}

// Run calls reload with the freshly read policies after each settled change
// until ctx is done or Close is called. Read and reload errors are logged;
// the caller's reload decides what a failure means.
func (w *Watcher) Run(ctx context.Context, reload func([]Policy) error) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", ev.Name).Msg("Cannot watch new directory")
					}
					continue
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if !isPolicyFile(ev.Name) || !w.covers(ev.Name) {
				continue
			}

			w.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			policies, err := LoadPaths(w.logger, w.paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				w.logger.Error().Err(err).Msg("Policy reload failed")
				continue
			}
			w.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

// covers reports whether name is a watched file or lies below a watched
// directory.
func (w *Watcher) covers(name string) bool {
	for _, p := range w.paths {
		if name == p {
			return true
		}
		rel, err := filepath.Rel(p, name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
