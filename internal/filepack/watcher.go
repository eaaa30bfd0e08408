package filepack

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/telnet2/shelld/internal/logging"
)

// DefaultDebounce collapses bursts of file events (editors write several
// times per save) into one reload.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls a function when command files under a directory change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	onChange func()
	log      zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	timer   *time.Timer
}

// NewWatcher watches dir and its subdirectories.
func NewWatcher(dir string, debounce time.Duration, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw := &Watcher{
		watcher:  w,
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		log:      logging.Component("filepack").With().Str("dir", dir).Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := fw.addTree(dir); err != nil {
		w.Close()
		return nil, err
	}
	return fw, nil
}

// addTree watches root and every directory below it. fsnotify is not
// recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Start begins delivering change notifications.
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
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("command file watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("path", ev.Name).Msg("cannot watch new directory")
			}
			w.schedule()
			return
		}
	}
	if !strings.HasSuffix(ev.Name, ".md") {
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
			return
		}
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		w.schedule()
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.log.Info().Msg("command files changed")
		w.onChange()
	})
}

// Stop stops the watcher. Pending notifications are dropped.
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
