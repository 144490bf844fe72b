package manifest

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/talos-sh/terminal-adapter/internal/classifier"
	"github.com/talos-sh/terminal-adapter/internal/logging"
)

// ReloadFunc is invoked with the freshly loaded manifest and its
// verification result whenever the watched file changes.
type ReloadFunc func(m *classifier.PolicyManifest, verified bool)

// Watcher watches a policy manifest file for changes and reloads it.
type Watcher struct {
	path     string
	verifier Verifier
	onReload ReloadFunc

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	started bool
}

// NewWatcher creates a Watcher for path. Returns nil if path is empty:
// there is nothing to watch when no manifest is configured.
func NewWatcher(path string, v Verifier, onReload ReloadFunc) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		verifier: v,
		onReload: onReload,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for file changes in the background.
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
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Str("path", w.path).Msg("manifest watcher error")
		}
	}
}

func (w *Watcher) reload() {
	m, verified, err := Verified(w.path, w.verifier)
	if err != nil {
		logging.Error().Err(err).Str("path", w.path).Msg("manifest reload failed")
		return
	}
	logging.Info().Str("path", w.path).Bool("verified", verified).Msg("manifest reloaded")
	if w.onReload != nil {
		w.onReload(m, verified)
	}
}

// Stop stops the watcher and releases its file handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
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
