package bolted

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher is the external change notifier: it observes the units root and
// the apps configuration file and collapses bursts of filesystem events
// into a single reload trigger. The watcher carries no reload semantics of
// its own; source edits and config edits both mean "run a reload pass".
type Watcher struct {
	logger   Logger
	trigger  func()
	debounce time.Duration

	fsw     *fsnotify.Watcher
	files   map[string]bool
	running bool

	mu    sync.Mutex
	timer *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet window before a burst of events becomes one
// reload trigger.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher that calls trigger after relevant changes.
func NewWatcher(logger Logger, trigger func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		logger:   logger,
		trigger:  trigger,
		debounce: defaultWatchDebounce,
		files:    map[string]bool{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts observing the given root directories (recursively) and
// individual files. Missing roots are logged and skipped, matching the
// original behavior of tolerating absent app directories.
func (w *Watcher) Watch(roots []string, files []string) error {
	if w.running {
		return ErrWatcherAlreadyRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.running = true

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			w.logger.Warn("watch root does not exist", "root", root)
			continue
		}
		if err := w.addRecursive(root); err != nil {
			w.logger.Error("watching root", "root", root, "error", err)
		}
	}
	for _, file := range files {
		w.files[filepath.Clean(file)] = true
		// Watch the directory, not the file: editors that replace on save
		// would otherwise drop the watch.
		if err := fsw.Add(filepath.Dir(file)); err != nil {
			w.logger.Error("watching config file", "file", file, "error", err)
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, disabledMarker) || prunedDirs[name]) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New directories join the watch so units created later still trigger.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Error("watching new directory", "dir", ev.Name, "error", err)
			}
		}
	}

	if !w.relevant(ev.Name) {
		return
	}
	w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
	w.schedule()
}

// relevant filters events down to unit sources, manifests and watched
// config files.
func (w *Watcher) relevant(path string) bool {
	if w.files[filepath.Clean(path)] {
		return true
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, disabledMarker) {
		return false
	}
	return strings.HasSuffix(base, ".go") || base == ManifestFile
}

// schedule arms (or re-arms) the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.trigger)
}

// Close stops watching and releases the underlying notifier.
func (w *Watcher) Close() error {
	if !w.running {
		return nil
	}
	w.running = false
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
