package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/testboard/internal/metrics"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 2 * time.Second

// ErrRunning is returned by Start on a source that is already watching.
var ErrRunning = errors.New("watch: already running")

// Poller rescans its directories on a fixed interval.
type Poller struct {
	dirs     []Dir
	interval time.Duration
	pub      Publisher
	log      *slog.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	states []*dirState
}

func NewPoller(dirs []Dir, interval time.Duration, pub Publisher, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{dirs: dirs, interval: interval, pub: pub, log: orDefault(log)}
}

// Start takes the baseline snapshot of every directory and launches the poll loop.
// The loop ends when ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return ErrRunning
	}
	states, err := prepareDirs(p.dirs, p.log)
	if err != nil {
		return err
	}
	p.states = states
	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				p.PollOnce()
			}
		}
	}()
	p.log.Info("watching result directories", "mode", "poll", "interval", p.interval.String(), "dirs", len(states))
	return nil
}

// Stop ends the loop and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// PollOnce performs a single tick: rescan, diff against the baseline, publish.
// It is only called from the loop goroutine, or by tests before Start launches it.
func (p *Poller) PollOnce() {
	for _, st := range p.states {
		metrics.IncPoll(string(st.dir.Kind))
		ev, changed, err := st.advance()
		if err != nil {
			metrics.IncScanError(string(st.dir.Kind))
			p.log.Warn("directory scan failed", "directory", st.dir.Path, "error", err)
			continue
		}
		if !changed {
			continue
		}
		metrics.IncChange(string(st.dir.Kind))
		p.log.Debug("directory changed", "directory", st.dir.Path, "added", ev.Added, "removed", ev.Removed)
		if p.pub != nil {
			p.pub.Publish(ev)
		}
	}
}
