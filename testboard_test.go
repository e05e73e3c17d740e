package testboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	c := DefaultConfig()
	c.Result.Dir = filepath.Join(root, "result")
	c.Result.HistoryDir = filepath.Join(root, "result", "history")
	c.Log.Dir = filepath.Join(root, "log")
	c.Log.Color = false
	c.Watch.Interval = 20 * time.Millisecond
	c.History.Sinks = []string{"sqlite://" + filepath.Join(root, "history.db")}
	return c
}

func TestConfigHelpers(t *testing.T) {
	c := DefaultConfig()
	if c.Server.Listen != ":5000" {
		t.Fatalf("listen=%q", c.Server.Listen)
	}
	p := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(p, []byte("[watch]\nmode = \"bogus\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second register should be tolerated: %v", err)
	}
}

func TestApp_SingleRunQueries(t *testing.T) {
	c := testConfig(t)
	c.History.Sinks = nil
	a, err := Open(c, LogSingle)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = a.Close() }()

	if _, err := a.Service().CurrentSummary(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if !strings.HasSuffix(a.LogPath(), ".log") || filepath.Base(a.LogPath()) == "current.log" {
		t.Fatalf("single-run log should be named by start time: %s", a.LogPath())
	}
}

func TestApp_StartWatchesAndServes(t *testing.T) {
	c := testConfig(t)
	a, err := Open(c, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = a.Close() }()

	if _, err := os.Stat(c.Result.HistoryDir); err != nil {
		t.Fatalf("history dir should be created: %v", err)
	}
	sub := a.Service().Subscribe()
	defer a.Service().Unsubscribe(sub)

	doc := `{"scene_result":[{"is_success":1},{"is_success":2}]}`
	if err := os.WriteFile(filepath.Join(c.Result.Dir, "20250101_120000.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sub.C:
		if ev.Kind != "result" || len(ev.Added) != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}

	srv := httptest.NewServer(a.Router().Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/current")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if rep.Total != 2 || rep.Success != 1 || rep.Skipped != 1 || rep.PassRate != 50 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}
}
