// Package dashboard answers summary queries over the result directories and hands
// out change subscriptions. Documents are re-read on every call.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/loykin/testboard/internal/events"
	"github.com/loykin/testboard/internal/metrics"
	"github.com/loykin/testboard/internal/result"
)

var (
	// ErrNoData means no current result file exists yet.
	ErrNoData = errors.New("no result data available")
	// ErrNotFound means the requested history key is absent or not a timestamp key.
	ErrNotFound = errors.New("history entry not found")
)

// Report is the full payload for one result file.
type Report struct {
	Key  string `json:"key"`
	Date string `json:"date"`
	result.Summary
	Scenes       json.RawMessage      `json:"scenes"`
	StepFailures []result.StepFailure `json:"step_failures"`
}

// HistoryEntry is one row of the history chart.
type HistoryEntry struct {
	Key  string `json:"key"`
	Date string `json:"date"`
	result.Summary
}

// Data is the combined payload: the current report plus the history rows, where the
// last row is the current file itself.
type Data struct {
	Current *Report        `json:"current"`
	History []HistoryEntry `json:"history"`
}

type Options struct {
	ResultDir    string
	HistoryDir   string
	CurrentAlias string
	Bus          *events.Broker
	Logger       *slog.Logger
}

type Service struct {
	resultDir  string
	historyDir string
	alias      string
	bus        *events.Broker
	log        *slog.Logger
}

func New(opts Options) *Service {
	if opts.CurrentAlias == "" {
		opts.CurrentAlias = result.DefaultCurrentAlias
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		resultDir:  opts.ResultDir,
		historyDir: opts.HistoryDir,
		alias:      opts.CurrentAlias,
		bus:        opts.Bus,
		log:        opts.Logger,
	}
}

// CurrentSummary summarizes the newest result file, chosen as the greatest file
// name in the result directory (names are timestamps).
func (s *Service) CurrentSummary() (rep *Report, err error) {
	defer func() { record("current", err) }()
	name, err := s.currentFile()
	if err != nil {
		return nil, err
	}
	return s.report(filepath.Join(s.resultDir, name), name, ErrNoData)
}

// HistorySummaries returns one entry per valid archived file in chronological
// order. Files with invalid names or malformed content are skipped and logged.
func (s *Service) HistorySummaries() (out []HistoryEntry, err error) {
	defer func() { record("history", err) }()
	entries, err := os.ReadDir(s.historyDir)
	if errors.Is(err, os.ErrNotExist) {
		return []HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	out = make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !result.IsResultName(name, s.alias) {
			continue
		}
		ts, err := result.ParseHistoryName(name)
		if err != nil {
			s.log.Warn("skipping history file", "file", name, "error", err)
			continue
		}
		doc, err := result.ReadFile(filepath.Join(s.historyDir, name))
		if err != nil {
			s.log.Warn("skipping history file", "file", name, "error", err)
			continue
		}
		out = append(out, HistoryEntry{
			Key:     ts.Format(result.KeyLayout),
			Date:    result.DisplayDate(ts),
			Summary: result.Summarize(doc),
		})
	}
	// os.ReadDir sorts by name and canonical names sort chronologically; keep it explicit
	slices.SortFunc(out, func(a, b HistoryEntry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// SummaryByKey resolves a key in either the canonical or the display form.
func (s *Service) SummaryByKey(key string) (rep *Report, err error) {
	defer func() { record("by_key", err) }()
	name, err := result.HistoryFileName(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return s.report(filepath.Join(s.historyDir, name), name, ErrNotFound)
}

// Data builds the combined dashboard payload.
func (s *Service) Data() (d *Data, err error) {
	defer func() { record("data", err) }()
	name, err := s.currentFile()
	if err != nil {
		return nil, err
	}
	cur, err := s.report(filepath.Join(s.resultDir, name), name, ErrNoData)
	if err != nil {
		return nil, err
	}
	hist, err := s.HistorySummaries()
	if err != nil {
		return nil, err
	}
	hist = append(hist, HistoryEntry{Key: cur.Key, Date: cur.Date, Summary: cur.Summary})
	return &Data{Current: cur, History: hist}, nil
}

// Subscribe registers for live change events. Callers must Unsubscribe.
func (s *Service) Subscribe() *events.Subscription { return s.bus.Subscribe() }

func (s *Service) Unsubscribe(sub *events.Subscription) { s.bus.Unsubscribe(sub) }

func (s *Service) currentFile() (string, error) {
	entries, err := os.ReadDir(s.resultDir)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoData
	}
	if err != nil {
		return "", fmt.Errorf("read result dir: %w", err)
	}
	var latest string
	for _, e := range entries {
		if e.IsDir() || !result.IsResultName(e.Name(), s.alias) {
			continue
		}
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", ErrNoData
	}
	return latest, nil
}

// report reads and summarizes one file; a vanished file is reported as missing.
func (s *Service) report(path, name string, missing error) (*Report, error) {
	doc, err := result.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", missing, name)
	}
	if err != nil {
		return nil, err
	}
	key, date := keyAndDate(name)
	return &Report{
		Key:          key,
		Date:         date,
		Summary:      result.Summarize(doc),
		Scenes:       doc.RawScenes,
		StepFailures: result.FailureTally(doc),
	}, nil
}

// keyAndDate derives the identity of a result file; names that are not timestamps
// keep their stem as key and date.
func keyAndDate(name string) (string, string) {
	if ts, err := result.ParseHistoryName(name); err == nil {
		return ts.Format(result.KeyLayout), result.DisplayDate(ts)
	}
	stem := strings.TrimSuffix(name, result.FileExt)
	return stem, stem
}

func record(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoData):
		outcome = "no_data"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, result.ErrMalformed):
		outcome = "malformed"
	default:
		outcome = "error"
	}
	metrics.IncAggregation(op, outcome)
}
