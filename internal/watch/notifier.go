package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/testboard/internal/metrics"
)

// DefaultDebounce is the collapse window for raw filesystem events.
const DefaultDebounce = time.Second

// Notifier turns fsnotify events into ChangeEvents. Raw events for one directory that
// arrive within the debounce window trigger a single rescan at the end of the window,
// and the rescan publishes only when the snapshot actually differs.
type Notifier struct {
	dirs     []Dir
	debounce time.Duration
	pub      Publisher
	log      *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	states  map[string]*dirState // keyed by cleaned directory path
	pending map[string]*time.Timer
	cancel  context.CancelFunc
	done    chan struct{}
	scanMu  sync.Mutex
	flushes sync.WaitGroup
}

func NewNotifier(dirs []Dir, debounce time.Duration, pub Publisher, log *slog.Logger) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Notifier{dirs: dirs, debounce: debounce, pub: pub, log: orDefault(log)}
}

func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.watcher != nil {
		return ErrRunning
	}
	states, err := prepareDirs(n.dirs, n.log)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	n.states = make(map[string]*dirState, len(states))
	for _, st := range states {
		p := filepath.Clean(st.dir.Path)
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return err
		}
		n.states[p] = st
	}
	n.pending = make(map[string]*time.Timer)
	n.watcher = w
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.loop(ctx, w, n.done)
	n.log.Info("watching result directories", "mode", "fsnotify", "debounce", n.debounce.String(), "dirs", len(states))
	return nil
}

func (n *Notifier) loop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			n.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			n.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

// Stop closes the watcher, cancels pending rescans and waits for the event loop.
func (n *Notifier) Stop() {
	n.mu.Lock()
	w, cancel, done := n.watcher, n.cancel, n.done
	n.watcher, n.cancel, n.done = nil, nil, nil
	for key, t := range n.pending {
		if t.Stop() {
			n.flushes.Done()
		}
		delete(n.pending, key)
	}
	n.mu.Unlock()
	if w == nil {
		return
	}
	cancel()
	_ = w.Close()
	<-done
	n.flushes.Wait()
}

func (n *Notifier) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	dir := filepath.Dir(filepath.Clean(ev.Name))
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.watcher == nil {
		return
	}
	if _, ok := n.states[dir]; !ok {
		return
	}
	if _, ok := n.pending[dir]; ok {
		return // already scheduled within this window
	}
	n.flushes.Add(1)
	n.pending[dir] = time.AfterFunc(n.debounce, func() {
		defer n.flushes.Done()
		n.flush(dir)
	})
}

func (n *Notifier) flush(dir string) {
	n.mu.Lock()
	if _, ok := n.pending[dir]; !ok {
		n.mu.Unlock()
		return // stopped
	}
	delete(n.pending, dir)
	st := n.states[dir]
	n.mu.Unlock()

	n.scanMu.Lock()
	defer n.scanMu.Unlock()
	metrics.IncPoll(string(st.dir.Kind))
	ev, changed, err := st.advance()
	if err != nil {
		metrics.IncScanError(string(st.dir.Kind))
		n.log.Warn("directory scan failed", "directory", st.dir.Path, "error", err)
		return
	}
	if !changed {
		return
	}
	metrics.IncChange(string(st.dir.Kind))
	n.log.Debug("directory changed", "directory", st.dir.Path, "added", ev.Added, "removed", ev.Removed)
	if n.pub != nil {
		n.pub.Publish(ev)
	}
}
