package watch

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/loykin/testboard/internal/result"
)

// Kind identifies which watched directory an event belongs to.
type Kind string

const (
	KindResult  Kind = "result"
	KindHistory Kind = "history"
)

// Dir describes one watched directory and its validity filter.
type Dir struct {
	Kind Kind
	Path string
	// Alias is the reserved "current" file name excluded from every snapshot.
	Alias string
}

// Snapshot is the set of valid file names (not paths) seen in a directory at one scan.
type Snapshot map[string]struct{}

// NewSnapshot builds a snapshot from names.
func NewSnapshot(names ...string) Snapshot {
	s := make(Snapshot, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Names returns the members sorted.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Equal compares by set membership only.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for n := range s {
		if _, ok := o[n]; !ok {
			return false
		}
	}
	return true
}

// Diff returns the names present only in next (added) and only in prev (removed), sorted.
func Diff(prev, next Snapshot) (added, removed []string) {
	added, removed = []string{}, []string{}
	for n := range next {
		if _, ok := prev[n]; !ok {
			added = append(added, n)
		}
	}
	for n := range prev {
		if _, ok := next[n]; !ok {
			removed = append(removed, n)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// Scan lists d and returns the snapshot of accepted names plus the names that look like
// result files but were rejected by the history timestamp rule.
func Scan(d Dir) (Snapshot, []string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", d.Path, err)
	}
	snap := make(Snapshot, len(entries))
	var rejected []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !result.IsResultName(name, d.Alias) {
			continue
		}
		if d.Kind == KindHistory {
			if _, err := result.ParseHistoryName(name); err != nil {
				rejected = append(rejected, name)
				continue
			}
		}
		snap[name] = struct{}{}
	}
	return snap, rejected, nil
}

// scanner wraps Scan with per-directory warning bookkeeping so a rejected history
// file is reported once, not on every tick.
type scanner struct {
	dir    Dir
	log    *slog.Logger
	warned map[string]struct{}
}

func newScanner(d Dir, log *slog.Logger) *scanner {
	return &scanner{dir: d, log: log, warned: make(map[string]struct{})}
}

func (s *scanner) scan() (Snapshot, error) {
	snap, rejected, err := Scan(s.dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rejected))
	for _, name := range rejected {
		seen[name] = struct{}{}
		if _, ok := s.warned[name]; ok {
			continue
		}
		s.log.Warn("skipping history file with invalid timestamp name",
			"directory", s.dir.Path, "file", name, "expected", result.KeyLayout+result.FileExt)
	}
	s.warned = seen
	return snap, nil
}
