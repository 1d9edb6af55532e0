package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opencode-ai/claudia/internal/logging"
	"github.com/opencode-ai/claudia/pkg/types"
)

// watchDebounce coalesces bursts of editor writes into one reload.
const watchDebounce = 100 * time.Millisecond

// Watcher reloads configuration when one of its source files changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	sources   map[string]bool
	onChange  func(*types.Config)

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex

	timer *time.Timer
}

// NewWatcher creates a watcher for the config sources of directory. onChange
// receives each successfully reloaded config; reload errors are logged and
// the previous config stays in effect.
func NewWatcher(directory string, onChange func(*types.Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sources := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, path := range Sources(directory) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		sources[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	// Watch directories, not files: editors replace files by rename.
	watched := 0
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("config watcher cannot watch directory")
			continue
		}
		watched++
	}
	logging.Debug().Int("dirs", watched).Str("directory", directory).Msg("config watcher initialized")

	return &Watcher{
		watcher:   w,
		directory: directory,
		sources:   sources,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !w.sources[abs] {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := Load(w.directory)
	if err != nil {
		logging.Warn().Err(err).Msg("config reload failed")
		return
	}
	logging.Info().Str("directory", w.directory).Msg("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
