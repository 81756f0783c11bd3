package policy

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads policy documents on change, per spec §6 ("Policy
// documents: on disk, hot-reloadable"). It is a thin wrapper over
// fsnotify — the pack's chosen file-watch library (present in both
// joeycumines-go-utilpkg and jordigilh-kubernaut's dependency surfaces) —
// rather than a hand-rolled polling loop.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	onEvent func(*Documents, error)
	log     *slog.Logger
}

// NewWatcher starts watching dir for changes to its policy YAML files.
// onReload is invoked with a freshly-loaded Documents (or an error, which
// the caller must treat as fail-closed per spec §4.C) every time any
// watched file is written.
func NewWatcher(dir string, onReload func(*Documents, error), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{dir: dir, fsw: fsw, onEvent: onReload, log: log.With("component", "policy_watcher")}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Info("policy document changed, reloading", "path", event.Name)
			docs, err := Load(w.dir)
			w.onEvent(docs, err)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("policy watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
