package dashboard

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/testboard/internal/events"
	"github.com/loykin/testboard/internal/history"
	"github.com/loykin/testboard/internal/result"
	"github.com/loykin/testboard/internal/watch"
)

// sendTimeout bounds a single export to the history sinks.
const sendTimeout = 10 * time.Second

// Archiver exports the summary of every archived result file to the history sinks:
// the existing archive once at start, then each file the change source reports as added.
type Archiver struct {
	svc  *Service
	sink history.Sink
	log  *slog.Logger
	now  func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewArchiver(svc *Service, sink history.Sink, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{svc: svc, sink: sink, log: log, now: time.Now}
}

// Start subscribes to the bus and runs the export loop until ctx ends or Stop.
func (a *Archiver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	sub := a.svc.Subscribe()
	go a.run(ctx, sub, a.done)
}

// Stop cancels the subscription and waits for an in-flight export.
func (a *Archiver) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Archiver) run(ctx context.Context, sub *events.Subscription, done chan struct{}) {
	defer close(done)
	defer func() { a.svc.Unsubscribe(sub) }()

	a.Backfill(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				if a.svc.bus.Closed() {
					return
				}
				// disconnected as a slow subscriber; anything missed is re-sent by the backfill
				a.log.Warn("archiver lost its subscription, resubscribing")
				sub = a.svc.Subscribe()
				a.Backfill(ctx)
				continue
			}
			if ev.Kind != watch.KindHistory {
				continue
			}
			for _, name := range ev.Added {
				if ctx.Err() != nil {
					return
				}
				a.export(ctx, name)
			}
		}
	}
}

// Backfill exports every valid file currently in the history directory. Sinks
// upsert by key, so repeating it is harmless.
func (a *Archiver) Backfill(ctx context.Context) {
	entries, err := a.svc.HistorySummaries()
	if err != nil {
		a.log.Warn("history backfill skipped", "error", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		a.send(ctx, history.Record{Key: e.Key, Date: e.Date, Summary: e.Summary, ObservedAt: a.now().UTC()})
	}
}

func (a *Archiver) export(ctx context.Context, name string) {
	ts, err := result.ParseHistoryName(name)
	if err != nil {
		return
	}
	doc, err := result.ReadFile(filepath.Join(a.svc.historyDir, name))
	if err != nil {
		a.log.Warn("cannot export history file", "file", name, "error", err)
		return
	}
	a.send(ctx, history.Record{
		Key:        ts.Format(result.KeyLayout),
		Date:       result.DisplayDate(ts),
		Summary:    result.Summarize(doc),
		ObservedAt: a.now().UTC(),
	})
}

func (a *Archiver) send(ctx context.Context, rec history.Record) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.sink.Send(ctx, rec); err != nil {
		a.log.Error("history export failed", "key", rec.Key, "error", err)
	}
}
