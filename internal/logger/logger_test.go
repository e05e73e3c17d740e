package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source for simulating day boundaries.
type clock struct{ t atomic.Value }

func newClock(t time.Time) *clock {
	c := &clock{}
	c.t.Store(t)
	return c
}

func (c *clock) Now() time.Time { return c.t.Load().(time.Time) }
func (c *clock) Set(t time.Time) { c.t.Store(t) }

func day(d int, hh int) time.Time { return time.Date(2025, 3, d, hh, 0, 0, 0, time.Local) }

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestRotator_DayBoundaryRollover(t *testing.T) {
	dir := t.TempDir()
	clk := newClock(day(9, 23))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous}, WithClock(clk.Now))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Write([]byte("before midnight\n"))
	require.NoError(t, err)

	rolled, err := r.Check()
	require.NoError(t, err)
	assert.False(t, rolled, "same day must not roll over")

	clk.Set(day(10, 0))
	rolled, err = r.Check()
	require.NoError(t, err)
	assert.True(t, rolled)

	_, err = r.Write([]byte("after midnight\n"))
	require.NoError(t, err)

	assert.Equal(t, "before midnight\n", readFile(t, filepath.Join(dir, "2025-03-09.log")))
	assert.Equal(t, "after midnight\n", readFile(t, filepath.Join(dir, ActiveName)))
}

func TestRotator_CollisionIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "2025-03-09.log")
	require.NoError(t, os.WriteFile(existing, []byte("manual copy\n"), 0o644))

	clk := newClock(day(9, 12))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous}, WithClock(clk.Now))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	_, _ = r.Write([]byte("live\n"))

	clk.Set(day(10, 0))
	rolled, err := r.Check()
	require.NoError(t, err)
	require.True(t, rolled)

	assert.Equal(t, "live\n", readFile(t, existing))
	baks, err := filepath.Glob(existing + ".*.bak")
	require.NoError(t, err)
	require.Len(t, baks, 1)
	assert.Equal(t, "manual copy\n", readFile(t, baks[0]))
}

func TestRotator_NoLineLostDuringRollover(t *testing.T) {
	dir := t.TempDir()
	clk := newClock(day(9, 23))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous}, WithClock(clk.Now))
	require.NoError(t, err)

	const writers, lines = 4, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < lines; i++ {
				_, err := fmt.Fprintf(r, "w%d-%d\n", w, i)
				assert.NoError(t, err)
			}
		}(w)
	}
	clk.Set(day(10, 0))
	_, err = r.Check()
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, r.Close())

	all := readFile(t, filepath.Join(dir, "2025-03-09.log")) + readFile(t, filepath.Join(dir, ActiveName))
	assert.Equal(t, writers*lines, strings.Count(all, "\n"))
}

func TestRotator_RenameFailureKeepsOldHandle(t *testing.T) {
	dir := t.TempDir()
	clk := newClock(day(9, 23))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous}, WithClock(clk.Now))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// the archive slot is taken and its backup name is occupied by a non-empty
	// directory, so the collision cannot be moved aside
	clk.Set(day(10, 0))
	target := filepath.Join(dir, "2025-03-09.log")
	require.NoError(t, os.WriteFile(target, []byte("keep\n"), 0o644))
	blocker := target + "." + clk.Now().Format(bakLayout) + ".bak"
	require.NoError(t, os.Mkdir(blocker, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocker, "x"), nil, 0o644))

	var buf bytes.Buffer
	r.SetLogger(Config{}.newSlogger(&buf, nil))
	_, _ = r.Write([]byte("a\n"))
	rolled, err := r.Check()
	require.Error(t, err)
	assert.False(t, rolled)
	_, _ = r.Write([]byte("b\n"))

	assert.Equal(t, "a\nb\n", readFile(t, filepath.Join(dir, ActiveName)))
	assert.Equal(t, "keep\n", readFile(t, target))
	assert.Contains(t, buf.String(), "log rollover failed")
}

func TestRotator_RecoversStaleActiveFile(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, ActiveName)
	require.NoError(t, os.WriteFile(active, []byte("yesterday\n"), 0o644))
	old := day(8, 10)
	require.NoError(t, os.Chtimes(active, old, old))

	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous}, WithClock(newClock(day(9, 1)).Now))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, "yesterday\n", readFile(t, filepath.Join(dir, "2025-03-08.log")))
	assert.Equal(t, "", readFile(t, active))
}

func TestRotator_PrunesOldArchives(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"2025-01-01.log", "2025-03-05.log", "notes.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	clk := newClock(day(9, 23))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous, MaxAgeDays: 30}, WithClock(clk.Now))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	clk.Set(day(10, 0))
	_, err = r.Check()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "2025-01-01.log"))
	assert.True(t, os.IsNotExist(err))
	for _, n := range []string{"2025-03-05.log", "2025-03-09.log", "notes.log"} {
		_, err = os.Stat(filepath.Join(dir, n))
		assert.NoError(t, err, n)
	}
}

func TestRotator_SingleRunMode(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 3, 9, 2, 23, 43, 0, time.Local)
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeSingle}, WithClock(func() time.Time { return start }))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	_, err = r.Write([]byte("run\n"))
	require.NoError(t, err)

	rolled, err := r.Check()
	require.NoError(t, err)
	assert.False(t, rolled)
	require.NoError(t, r.Close())

	assert.Equal(t, filepath.Join(dir, "20250309-022343.log"), r.Path())
	assert.Equal(t, "run\n", readFile(t, r.Path()))
	_, err = r.Write([]byte("late\n"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRotator_UnknownMode(t *testing.T) {
	_, err := NewRotator(FileConfig{Dir: t.TempDir(), Mode: "hourly"})
	require.Error(t, err)
}

func TestRotator_ScheduledCheck(t *testing.T) {
	dir := t.TempDir()
	clk := newClock(day(9, 23))
	r, err := NewRotator(FileConfig{Dir: dir, Mode: ModeContinuous, CheckInterval: time.Second}, WithClock(clk.Now))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Close() }()

	clk.Set(day(10, 0))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "2025-03-09.log"))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewSlogger_WritesToFileWithoutColor(t *testing.T) {
	var console, file bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelDebug, Format: FormatText, Color: true, TimeStamps: true}}
	l := cfg.newSlogger(&console, &file)
	l.With("component", "watch").Debug("scan done", "files", 2)

	assert.Contains(t, console.String(), "\033[36m")
	assert.Contains(t, file.String(), "scan done")
	assert.Contains(t, file.String(), "component=watch")
	assert.NotContains(t, file.String(), "\033[")
}

func TestNewSlogger_LevelAndJSON(t *testing.T) {
	var file bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelWarn, Format: FormatJSON}}
	l := cfg.newSlogger(nil, &file)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, file.String(), "hidden")
	assert.Contains(t, file.String(), `"msg":"shown"`)
	assert.NotContains(t, file.String(), `"time"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, ParseLevel("DEBUG").String(), "DEBUG")
	assert.Equal(t, ParseLevel("warning").String(), "WARN")
	assert.Equal(t, ParseLevel("").String(), "INFO")
}
