package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/testboard/internal/events"
	"github.com/loykin/testboard/internal/history"
	"github.com/loykin/testboard/internal/result"
	"github.com/loykin/testboard/internal/watch"
)

type fixture struct {
	resultDir  string
	historyDir string
	bus        *events.Broker
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		resultDir:  filepath.Join(root, "result"),
		historyDir: filepath.Join(root, "result", "history"),
	}
	require.NoError(t, os.MkdirAll(f.historyDir, 0o755))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.bus = events.NewBroker(events.Options{Buffer: 8, Logger: log})
	f.svc = New(Options{ResultDir: f.resultDir, HistoryDir: f.historyDir, Bus: f.bus, Logger: log})
	return f
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

const (
	oneOfTwo = `{"scene_result":[
		{"is_success":1,"scene_result":[{"step_name":"open","is_success":1}]},
		{"is_success":0,"scene_result":[{"step_name":"login","is_success":0}]}
	]}`
	skippedOnly = `{"scene_result":[{"is_success":2}]}`
)

func TestHistorySummaries_EndToEnd(t *testing.T) {
	f := newFixture(t)
	write(t, f.historyDir, "20250102_000000.json", skippedOnly)
	write(t, f.historyDir, "20250101_000000.json", oneOfTwo)

	got, err := f.svc.HistorySummaries()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "20250101_000000", got[0].Key)
	assert.Equal(t, "2025-01-01 00:00:00", got[0].Date)
	assert.Equal(t, result.Summary{Total: 2, Success: 1, Failed: 1, PassRate: 50.0}, got[0].Summary)

	assert.Equal(t, "20250102_000000", got[1].Key)
	assert.Equal(t, result.Summary{Total: 1, Skipped: 1, PassRate: 0.0}, got[1].Summary)
}

func TestHistorySummaries_SkipsInvalidFiles(t *testing.T) {
	f := newFixture(t)
	write(t, f.historyDir, "20250101_000000.json", oneOfTwo)
	write(t, f.historyDir, "report.json", oneOfTwo)
	write(t, f.historyDir, "2025-03-08.json", oneOfTwo)
	write(t, f.historyDir, "20250103_000000.json", `{"scene_result":`)
	write(t, f.historyDir, "current.json", oneOfTwo)

	got, err := f.svc.HistorySummaries()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20250101_000000", got[0].Key)
}

func TestHistorySummaries_MissingDirIsEmpty(t *testing.T) {
	svc := New(Options{ResultDir: t.TempDir(), HistoryDir: filepath.Join(t.TempDir(), "none")})
	got, err := svc.HistorySummaries()
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCurrentSummary_PicksNewestAndIgnoresAlias(t *testing.T) {
	f := newFixture(t)
	write(t, f.resultDir, "20250101_000000.json", skippedOnly)
	write(t, f.resultDir, "20250308_022824.json", oneOfTwo)
	write(t, f.resultDir, "current.json", `{"scene_result":[{"is_success":1}]}`)

	rep, err := f.svc.CurrentSummary()
	require.NoError(t, err)
	assert.Equal(t, "20250308_022824", rep.Key)
	assert.Equal(t, "2025-03-08 02:28:24", rep.Date)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, []result.StepFailure{{Step: "login", Failures: 1}}, rep.StepFailures)
	assert.JSONEq(t, oneOfTwo[len(`{"scene_result":`):len(oneOfTwo)-1], string(rep.Scenes))
}

func TestCurrentSummary_NoDataVersusMalformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CurrentSummary()
	assert.ErrorIs(t, err, ErrNoData)

	write(t, f.resultDir, "current.json", oneOfTwo)
	_, err = f.svc.CurrentSummary()
	assert.ErrorIs(t, err, ErrNoData, "the alias alone is not data")

	write(t, f.resultDir, "20250101_000000.json", `[1,2]`)
	_, err = f.svc.CurrentSummary()
	assert.ErrorIs(t, err, result.ErrMalformed)
	assert.False(t, errors.Is(err, ErrNoData))
}

func TestSummaryByKey(t *testing.T) {
	f := newFixture(t)
	write(t, f.historyDir, "20250308_022824.json", oneOfTwo)

	for _, key := range []string{"20250308_022824", "2025-03-08 02:28:24", " 20250308_022824 "} {
		rep, err := f.svc.SummaryByKey(key)
		require.NoError(t, err, key)
		assert.Equal(t, 50.0, rep.PassRate)
		assert.Equal(t, "2025-03-08 02:28:24", rep.Date)
	}

	for _, key := range []string{"20250309_000000", "yesterday", "../20250308_022824", ""} {
		_, err := f.svc.SummaryByKey(key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}

	write(t, f.historyDir, "20250310_000000.json", `{`)
	_, err := f.svc.SummaryByKey("20250310_000000")
	assert.ErrorIs(t, err, result.ErrMalformed)
}

func TestData_AppendsCurrentToHistory(t *testing.T) {
	f := newFixture(t)
	write(t, f.historyDir, "20250101_000000.json", oneOfTwo)
	write(t, f.resultDir, "20250102_000000.json", skippedOnly)

	d, err := f.svc.Data()
	require.NoError(t, err)
	require.Len(t, d.History, 2)
	assert.Equal(t, "20250102_000000", d.History[1].Key)
	assert.Equal(t, d.Current.Summary, d.History[1].Summary)

	hist, err := f.svc.HistorySummaries()
	require.NoError(t, err)
	assert.Len(t, hist, 1, "history summaries stay archive-only")
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	sub := f.svc.Subscribe()
	f.bus.Publish(watch.ChangeEvent{Kind: watch.KindResult, Added: []string{"a.json"}})
	ev := <-sub.C
	assert.Equal(t, watch.KindResult, ev.Kind)
	f.svc.Unsubscribe(sub)
	_, ok := <-sub.C
	assert.False(t, ok)
}

type memSink struct {
	mu   sync.Mutex
	recs []history.Record
}

func (m *memSink) Send(_ context.Context, r history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memSink) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Key)
	}
	return out
}

func TestArchiver_BackfillAndAddedFiles(t *testing.T) {
	f := newFixture(t)
	write(t, f.historyDir, "20250101_000000.json", oneOfTwo)
	sink := &memSink{}
	a := NewArchiver(f.svc, sink, nil)
	a.Start(context.Background())
	defer a.Stop()

	assert.Eventually(t, func() bool { return len(sink.keys()) == 1 }, 2*time.Second, 10*time.Millisecond)

	write(t, f.historyDir, "20250102_000000.json", skippedOnly)
	f.bus.Publish(watch.ChangeEvent{Kind: watch.KindResult, Added: []string{"20250102_000000.json"}})
	f.bus.Publish(watch.ChangeEvent{Kind: watch.KindHistory, Added: []string{"20250102_000000.json", "bogus.json"}})

	assert.Eventually(t, func() bool { return len(sink.keys()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"20250101_000000", "20250102_000000"}, sink.keys())

	sink.mu.Lock()
	last := sink.recs[1]
	sink.mu.Unlock()
	assert.Equal(t, "2025-01-02 00:00:00", last.Date)
	assert.Equal(t, 1, last.Summary.Skipped)
}

func TestArchiver_StopsWhenBusCloses(t *testing.T) {
	f := newFixture(t)
	a := NewArchiver(f.svc, &memSink{}, nil)
	a.Start(context.Background())
	f.bus.Close()

	stopped := make(chan struct{})
	go func() { a.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}
