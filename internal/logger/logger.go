package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB     = 10 // MB, single-run mode
	DefaultMaxBackups    = 5  // single-run mode
	DefaultMaxAgeDays    = 30 // daily archives kept in continuous mode
	DefaultCheckInterval = time.Minute
	DefaultDir           = "log"

	TimeLayout = "2006-01-02 15:04:05"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Mode selects the rotation policy of the log file. It is fixed for the process lifetime.
type Mode string

const (
	// ModeContinuous keeps one file per calendar day and rolls over at the day boundary.
	ModeContinuous Mode = "continuous"
	// ModeSingle writes one file per invocation, rotated by size only.
	ModeSingle Mode = "single"
)

// SlogConfig controls record formatting.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool // console only; the file never gets ANSI codes
	TimeStamps bool
	Source     bool
}

// FileConfig controls the rotating log file.
type FileConfig struct {
	Dir           string
	Mode          Mode
	CheckInterval time.Duration // day-boundary check period (continuous)
	MaxSizeMB     int           // size threshold (single)
	MaxBackups    int           // retained size backups (single)
	MaxAgeDays    int           // retained daily archives (continuous) or backups age (single)
	Compress      bool          // gzip size backups (single)
}

// Config groups console formatting and file rotation settings.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// NewSlogger builds a logger that writes to stderr and, when file is non-nil, to file.
// Pass a *Rotator as file so every record goes through the single owned log handle.
func (c Config) NewSlogger(file io.Writer) *slog.Logger {
	return c.newSlogger(os.Stderr, file)
}

func (c Config) newSlogger(console, file io.Writer) *slog.Logger {
	opts := c.handlerOptions()
	var hs []slog.Handler
	if console != nil {
		switch {
		case c.Slog.Format == FormatJSON:
			hs = append(hs, slog.NewJSONHandler(console, opts))
		case c.Slog.Color:
			hs = append(hs, NewColorTextHandler(console, opts, c.Slog.TimeStamps))
		default:
			hs = append(hs, slog.NewTextHandler(console, opts))
		}
	}
	if file != nil {
		if c.Slog.Format == FormatJSON {
			hs = append(hs, slog.NewJSONHandler(file, opts))
		} else {
			hs = append(hs, slog.NewTextHandler(file, opts))
		}
	}
	if len(hs) == 1 {
		return slog.New(hs[0])
	}
	return slog.New(fanout(hs))
}

func (c Config) handlerOptions() *slog.HandlerOptions {
	showTime := c.Slog.TimeStamps
	return &slog.HandlerOptions{
		Level:     ParseLevel(string(c.Slog.Level)),
		AddSource: c.Slog.Source,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 || a.Key != slog.TimeKey {
				return a
			}
			if !showTime {
				return slog.Attr{}
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(TimeLayout))
			}
			return a
		},
	}
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
