package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/loykin/testboard/internal/metrics"
)

const (
	// ActiveName is the file continuous mode writes to; it is renamed to
	// <day>.log when the day ends.
	ActiveName = "current.log"
	dayLayout  = "2006-01-02"
	runLayout  = "20060102-150405"
	lockName   = ".rotate.lock"
	bakLayout  = "20060102-150405.000000000"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("log sink closed")

// Rotator owns the one active log file. Every writer goes through Write, so a
// rollover swaps the handle inside one critical section and no line is lost.
type Rotator struct {
	cfg  FileConfig
	now  func() time.Time
	lock *flock.Flock

	mu     sync.Mutex
	file   *os.File   // continuous mode
	day    string     // day the active file was opened, continuous mode
	size   *lj.Logger // single-run mode
	closed bool
	log    *slog.Logger

	sched *cron.Cron
}

// RotatorOption customizes a Rotator.
type RotatorOption func(*Rotator)

// WithClock replaces time.Now, used to simulate day boundaries.
func WithClock(now func() time.Time) RotatorOption {
	return func(r *Rotator) { r.now = now }
}

// NewRotator opens the log sink according to cfg.Mode. In continuous mode a
// current.log left over from an earlier day is archived first.
func NewRotator(cfg FileConfig, opts ...RotatorOption) (*Rotator, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeContinuous
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	r := &Rotator{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	switch cfg.Mode {
	case ModeSingle:
		r.size = &lj.Logger{
			Filename:   filepath.Join(cfg.Dir, r.now().Format(runLayout)+".log"),
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
	case ModeContinuous:
		r.lock = flock.New(filepath.Join(cfg.Dir, lockName))
		if err := r.recoverStale(); err != nil {
			return nil, err
		}
		f, err := openActive(r.activePath())
		if err != nil {
			return nil, err
		}
		r.file = f
		r.day = r.now().Format(dayLayout)
	default:
		return nil, fmt.Errorf("unknown log mode %q", cfg.Mode)
	}
	return r, nil
}

// SetLogger sets where rotation problems are reported. It is usually the logger
// built on top of this Rotator; messages are emitted outside the write lock.
func (r *Rotator) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	r.log = l
	r.mu.Unlock()
}

func (r *Rotator) Mode() Mode { return r.cfg.Mode }

// Path returns the file currently receiving writes.
func (r *Rotator) Path() string {
	if r.size != nil {
		return r.size.Filename
	}
	return r.activePath()
}

func (r *Rotator) activePath() string { return filepath.Join(r.cfg.Dir, ActiveName) }

func (r *Rotator) archivePath(day string) string {
	return filepath.Join(r.cfg.Dir, day+".log")
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if r.size != nil {
		return r.size.Write(p)
	}
	return r.file.Write(p)
}

// Start schedules the day-boundary check. It is a no-op in single-run mode.
func (r *Rotator) Start() error {
	if r.cfg.Mode != ModeContinuous {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+r.cfg.CheckInterval.String(), func() { _, _ = r.Check() }); err != nil {
		return fmt.Errorf("schedule log rotation: %w", err)
	}
	c.Start()
	r.sched = c
	return nil
}

// Stop cancels the schedule and waits for a running check to finish.
func (r *Rotator) Stop() {
	r.mu.Lock()
	c := r.sched
	r.sched = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Close stops the schedule and closes the active file.
func (r *Rotator) Close() error {
	r.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.size != nil {
		return r.size.Close()
	}
	return r.file.Close()
}

// Check compares the current date with the date the active file was opened and
// rolls over when they differ. It reports whether a rollover happened. Failures
// are logged and counted; writes keep going to the previous file.
func (r *Rotator) Check() (bool, error) {
	if r.cfg.Mode != ModeContinuous {
		return false, nil
	}
	locked, err := r.lock.TryLock()
	if err != nil || !locked {
		// another process is rotating this directory
		return false, err
	}
	defer func() { _ = r.lock.Unlock() }()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, nil
	}
	today := r.now().Format(dayLayout)
	prev := r.day
	if today == prev {
		r.mu.Unlock()
		return false, nil
	}
	backup, err := r.rolloverLocked(today)
	l := r.log
	r.mu.Unlock()

	if l == nil {
		l = slog.Default()
	}
	if err != nil {
		metrics.IncRotationFailure()
		l.Error("log rollover failed, still writing to previous file", "day", prev, "error", err)
		return false, err
	}
	metrics.IncRotation()
	if backup != "" {
		l.Warn("daily log already existed, kept as backup", "archive", r.archivePath(prev), "backup", backup)
	}
	l.Info("log rolled over", "archive", r.archivePath(prev), "day", today)
	r.prune(l)
	return true, nil
}

// rolloverLocked archives the active file under r.day and opens a fresh one.
// The old handle keeps receiving writes until the new one is open: a rename does
// not invalidate an open descriptor, so nothing written in between is lost.
func (r *Rotator) rolloverLocked(today string) (string, error) {
	_ = r.file.Sync()
	target := r.archivePath(r.day)
	backup, err := backupExisting(target, r.now())
	if err != nil {
		return "", err
	}
	if err := os.Rename(r.activePath(), target); err != nil {
		restore(backup, target)
		return "", fmt.Errorf("archive %s: %w", ActiveName, err)
	}
	nf, err := openActive(r.activePath())
	if err != nil {
		if rerr := os.Rename(target, r.activePath()); rerr == nil {
			restore(backup, target)
		}
		return "", err
	}
	old := r.file
	r.file, r.day = nf, today
	_ = old.Close()
	return backup, nil
}

// recoverStale archives a current.log whose last write happened on an earlier day,
// which is what a crash or a restart across midnight leaves behind.
func (r *Rotator) recoverStale() error {
	fi, err := os.Stat(r.activePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	day := fi.ModTime().In(r.now().Location()).Format(dayLayout)
	if day == r.now().Format(dayLayout) {
		return nil
	}
	target := r.archivePath(day)
	backup, err := backupExisting(target, r.now())
	if err != nil {
		return err
	}
	if err := os.Rename(r.activePath(), target); err != nil {
		restore(backup, target)
		return fmt.Errorf("archive stale %s: %w", ActiveName, err)
	}
	return nil
}

// prune removes daily archives older than MaxAgeDays.
func (r *Rotator) prune(l *slog.Logger) {
	if r.cfg.MaxAgeDays <= 0 {
		return
	}
	cutoff := r.now().AddDate(0, 0, -r.cfg.MaxAgeDays).Format(dayLayout)
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		l.Warn("list log dir", "error", err)
		return
	}
	for _, e := range entries {
		day, ok := strings.CutSuffix(e.Name(), ".log")
		if !ok || e.IsDir() {
			continue
		}
		if _, err := time.Parse(dayLayout, day); err != nil || day >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(r.cfg.Dir, e.Name())); err != nil {
			l.Warn("remove old log", "file", e.Name(), "error", err)
		}
	}
}

// backupExisting moves target aside to a timestamped .bak name when it exists and
// returns the backup path, or "" when there was nothing to move.
func backupExisting(target string, now time.Time) (string, error) {
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.%s.bak", target, now.Format(bakLayout))
	if err := os.Rename(target, backup); err != nil {
		return "", fmt.Errorf("back up %s: %w", filepath.Base(target), err)
	}
	return backup, nil
}

func restore(backup, target string) {
	if backup != "" {
		_ = os.Rename(backup, target)
	}
}

func openActive(path string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

var _ io.WriteCloser = (*Rotator)(nil)
