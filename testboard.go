package testboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/testboard/internal/config"
	"github.com/loykin/testboard/internal/dashboard"
	"github.com/loykin/testboard/internal/events"
	"github.com/loykin/testboard/internal/history"
	"github.com/loykin/testboard/internal/history/factory"
	"github.com/loykin/testboard/internal/logger"
	"github.com/loykin/testboard/internal/metrics"
	"github.com/loykin/testboard/internal/result"
	iapi "github.com/loykin/testboard/internal/server"
	"github.com/loykin/testboard/internal/watch"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Summary = result.Summary

type StepFailure = result.StepFailure

type Report = dashboard.Report

type HistoryEntry = dashboard.HistoryEntry

type Data = dashboard.Data

type ChangeEvent = watch.ChangeEvent

type HistoryRecord = history.Record

type HistorySink = history.Sink

type LogMode = logger.Mode

const (
	LogContinuous = logger.ModeContinuous
	LogSingle     = logger.ModeSingle
)

var (
	ErrNoData        = dashboard.ErrNoData
	ErrNotFound      = dashboard.ErrNotFound
	ErrMalformed     = result.ErrMalformed
	ErrInvalidConfig = cfg.ErrInvalid
)

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// App owns every long-lived component of a dashboard process: the rotating log
// file, the change source, the notification bus, the history archiver and sinks.
type App struct {
	cfg      Config
	rotator  *logger.Rotator
	log      *slog.Logger
	bus      *events.Broker
	svc      *dashboard.Service
	sinks    history.Multi
	source   watch.Source
	archiver *dashboard.Archiver
	started  bool
}

// Open builds an App from c. mode overrides the configured log mode when non-empty.
// Nothing runs in the background until Start.
func Open(c Config, mode LogMode) (*App, error) {
	lc := c.Logger(mode)
	rot, err := logger.NewRotator(lc.File)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	log := lc.NewSlogger(rot)
	rot.SetLogger(log)

	sinks, err := factory.NewSinks(c.History.Sinks)
	if err != nil {
		_ = rot.Close()
		return nil, err
	}

	bus := events.NewBroker(events.Options{Buffer: c.Server.SubscriberBuffer, Logger: log})
	svc := dashboard.New(dashboard.Options{
		ResultDir:    c.Result.Dir,
		HistoryDir:   c.Result.HistoryDir,
		CurrentAlias: c.Result.CurrentAlias,
		Bus:          bus,
		Logger:       log,
	})
	a := &App{cfg: c, rotator: rot, log: log, bus: bus, svc: svc, sinks: sinks}
	a.source = a.newSource()
	if len(sinks) > 0 {
		a.archiver = dashboard.NewArchiver(svc, sinks, log)
	}
	if c.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
	}
	return a, nil
}

func (a *App) newSource() watch.Source {
	dirs := []watch.Dir{
		{Kind: watch.KindResult, Path: a.cfg.Result.Dir, Alias: a.cfg.Result.CurrentAlias},
		{Kind: watch.KindHistory, Path: a.cfg.Result.HistoryDir, Alias: a.cfg.Result.CurrentAlias},
	}
	if a.cfg.Watch.Mode == cfg.WatchFSNotify {
		return watch.NewNotifier(dirs, a.cfg.Watch.Debounce, a.bus, a.log)
	}
	return watch.NewPoller(dirs, a.cfg.Watch.Interval, a.bus, a.log)
}

func (a *App) Logger() *slog.Logger { return a.log }

func (a *App) Service() *dashboard.Service { return a.svc }

// LogPath returns the file currently receiving log output.
func (a *App) LogPath() string { return a.rotator.Path() }

// Start launches log rotation checks, the change source and the archiver.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	if err := a.rotator.Start(); err != nil {
		return err
	}
	if err := a.source.Start(ctx); err != nil {
		a.rotator.Stop()
		return fmt.Errorf("start %s watcher: %w", a.cfg.Watch.Mode, err)
	}
	if a.archiver != nil {
		a.archiver.Start(ctx)
	}
	a.started = true
	a.log.Info("testboard started",
		"result_dir", a.cfg.Result.Dir,
		"history_dir", a.cfg.Result.HistoryDir,
		"watch", a.cfg.Watch.Mode,
		"sinks", len(a.sinks))
	return nil
}

// Router returns the HTTP router for this App's configuration.
func (a *App) Router() *iapi.Router {
	opts := []iapi.Option{iapi.WithLogger(a.log)}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, iapi.WithMetrics(prometheus.DefaultGatherer))
	}
	return iapi.NewRouter(a.svc, a.cfg.Server.BasePath, opts...)
}

// NewHTTPServer returns an unstarted server for the App's router on the configured address.
func (a *App) NewHTTPServer() *http.Server {
	return iapi.NewServer(a.cfg.Server.Listen, a.Router().Handler())
}

// Close stops everything Start launched, ends live subscriptions and closes the
// sinks and the log file. The log file is closed last.
func (a *App) Close() error {
	if a.started {
		a.source.Stop()
		if a.archiver != nil {
			a.archiver.Stop()
		}
		a.started = false
	}
	a.bus.Close()
	var errs []error
	if err := a.sinks.Close(); err != nil {
		a.log.Error("close history sinks", "error", err)
		errs = append(errs, err)
	}
	a.log.Info("testboard stopped")
	if err := a.rotator.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Serve starts the App and an HTTP server, and blocks until ctx ends or the server
// fails. Shutdown waits up to grace for in-flight requests.
func (a *App) Serve(ctx context.Context, grace time.Duration) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	srv := a.NewHTTPServer()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info("http server listening", "addr", srv.Addr, "base_path", a.cfg.Server.BasePath)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	// streams only end once the bus is closed
	a.bus.Close()
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
	}
	return nil
}

