// Package watch detects added and removed result files in watched directories.
//
// Two interchangeable sources exist: Poller rescans on a fixed interval, Notifier
// reacts to fsnotify events and debounces them. Both keep the last successful
// Snapshot per directory as their baseline and publish one ChangeEvent whenever a
// new snapshot differs from it. The initial scan at Start only sets the baseline.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// ChangeEvent reports the difference between two consecutive snapshots of one directory.
type ChangeEvent struct {
	Kind    Kind     `json:"directory"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Publisher receives change events. It must not block.
type Publisher interface {
	Publish(ChangeEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ChangeEvent)

func (f PublisherFunc) Publish(ev ChangeEvent) { f(ev) }

// Source is a directory change source with an explicit lifecycle.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// dirState is the baseline owned by a source for one directory.
type dirState struct {
	*scanner
	base Snapshot
	ok   bool
}

// advance scans the directory and returns the event to publish, if any. A failed scan
// keeps the previous baseline; the first successful scan only establishes it.
func (st *dirState) advance() (ChangeEvent, bool, error) {
	snap, err := st.scan()
	if err != nil {
		return ChangeEvent{}, false, err
	}
	if !st.ok {
		st.base, st.ok = snap, true
		return ChangeEvent{}, false, nil
	}
	added, removed := Diff(st.base, snap)
	st.base = snap
	if len(added) == 0 && len(removed) == 0 {
		return ChangeEvent{}, false, nil
	}
	return ChangeEvent{Kind: st.dir.Kind, Added: added, Removed: removed}, true, nil
}

func prepareDirs(dirs []Dir, log *slog.Logger) ([]*dirState, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("watch: no directories configured")
	}
	states := make([]*dirState, 0, len(dirs))
	for _, d := range dirs {
		if err := os.MkdirAll(d.Path, 0o755); err != nil {
			return nil, fmt.Errorf("watch: create %s: %w", d.Path, err)
		}
		st := &dirState{scanner: newScanner(d, log)}
		if _, _, err := st.advance(); err != nil {
			log.Warn("initial scan failed", "directory", d.Path, "error", err)
		}
		states = append(states, st)
	}
	return states, nil
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
