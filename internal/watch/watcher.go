package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 100 * time.Millisecond

// skipDirs are never watched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Watcher watches a directory tree and delivers debounced batches of
// matching file changes. Changes to the same path within one batch are
// coalesced.
type Watcher struct {
	root     string
	matcher  *Matcher
	debounce time.Duration
	onChange func([]rpc.FileChange)
	logger   *zap.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]rpc.ChangeType
	timer   *time.Timer

	// deliver serializes callbacks.
	deliver sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	closeErr error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration (default 100ms).
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New starts watching root. onChange is called from a background goroutine,
// never concurrently with itself.
func New(root string, matcher *Matcher, onChange func([]rpc.FileChange), opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		matcher:  matcher,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   zap.NewNop(),
		watcher:  fsw,
		pending:  make(map[string]rpc.ChangeType),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	if err := w.addTree(root, false); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// addTree watches dir and every directory below it. With report set, files
// already present are queued as created; they may have appeared before the
// watch was in place.
func (w *Watcher) addTree(dir string, report bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Debug("skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}

		if d.IsDir() {
			if p != w.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(p); err != nil {
				return err
			}
			return nil
		}

		if report {
			w.queue(p, rpc.FileCreated)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if skipDirs[info.Name()] {
				return
			}
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
		w.queue(event.Name, rpc.FileCreated)

	case event.Has(fsnotify.Write):
		w.queue(event.Name, rpc.FileChanged)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.queue(event.Name, rpc.FileDeleted)
	}
}

func (w *Watcher) queue(path string, typ rpc.ChangeType) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || !w.matcher.Match(filepath.ToSlash(rel)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if merged, keep := merge(w.pending[path], typ); keep {
		w.pending[path] = merged
	} else {
		delete(w.pending, path)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// merge folds next into the change already pending for a path. A file
// created and deleted within one batch is dropped.
func merge(prev, next rpc.ChangeType) (rpc.ChangeType, bool) {
	switch {
	case prev == 0:
		return next, true
	case prev == rpc.FileCreated && next == rpc.FileDeleted:
		return 0, false
	case prev == rpc.FileCreated:
		return rpc.FileCreated, true
	case prev == rpc.FileDeleted && next != rpc.FileDeleted:
		return rpc.FileChanged, true
	default:
		return next, true
	}
}

func (w *Watcher) flush() {
	w.deliver.Lock()
	defer w.deliver.Unlock()

	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]rpc.FileChange, 0, len(w.pending))
	for path, typ := range w.pending {
		batch = append(batch, rpc.FileChange{Path: path, Type: typ})
	}
	w.pending = make(map[string]rpc.ChangeType)
	w.mu.Unlock()

	select {
	case <-w.stop:
		return
	default:
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	w.logger.Debug("watched files changed", zap.Int("count", len(batch)))
	w.onChange(batch)
}

// Close stops the watcher. Pending changes are discarded and no callback
// runs once Close returns, so it must not be called from the callback. It
// is safe to call more than once.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.closeErr = w.watcher.Close()
		<-w.done

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		// Wait out a delivery already in progress.
		w.deliver.Lock()
		w.deliver.Unlock()
	})
	return w.closeErr
}
