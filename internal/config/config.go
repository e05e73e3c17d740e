package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/testboard/internal/logger"
	"github.com/loykin/testboard/internal/result"
)

// ErrInvalid reports a configuration that cannot be used. It is only fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is prepended to every environment override, e.g. TESTBOARD_SERVER_LISTEN.
const EnvPrefix = "TESTBOARD"

const (
	WatchPoll     = "poll"
	WatchFSNotify = "fsnotify"
)

// Config represents the top-level TOML structure.
type Config struct {
	Result  ResultConfig  `toml:"result" mapstructure:"result"`
	Watch   WatchConfig   `toml:"watch" mapstructure:"watch"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

type ResultConfig struct {
	Dir          string `toml:"dir" mapstructure:"dir"`
	HistoryDir   string `toml:"history_dir" mapstructure:"history_dir"`
	CurrentAlias string `toml:"current_alias" mapstructure:"current_alias"`
}

type WatchConfig struct {
	Mode     string        `toml:"mode" mapstructure:"mode"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Debounce time.Duration `toml:"debounce" mapstructure:"debounce"`
}

type LogConfig struct {
	Dir           string        `toml:"dir" mapstructure:"dir"`
	Mode          string        `toml:"mode" mapstructure:"mode"`
	CheckInterval time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	MaxSizeMB     int           `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups    int           `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays    int           `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress      bool          `toml:"compress" mapstructure:"compress"`
	Level         string        `toml:"level" mapstructure:"level"`
	Format        string        `toml:"format" mapstructure:"format"`
	Color         bool          `toml:"color" mapstructure:"color"`
}

type ServerConfig struct {
	Listen           string `toml:"listen" mapstructure:"listen"`
	BasePath         string `toml:"base_path" mapstructure:"base_path"`
	SubscriberBuffer int    `toml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("result.dir", "result")
	v.SetDefault("result.history_dir", filepath.Join("result", "history"))
	v.SetDefault("result.current_alias", result.DefaultCurrentAlias)
	v.SetDefault("watch.mode", WatchPoll)
	v.SetDefault("watch.interval", "2s")
	v.SetDefault("watch.debounce", "1s")
	v.SetDefault("log.dir", logger.DefaultDir)
	v.SetDefault("log.mode", string(logger.ModeContinuous))
	v.SetDefault("log.check_interval", "60s")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true)
	v.SetDefault("server.listen", ":5000")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.subscriber_buffer", 16)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.sinks", []string{})
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// Load reads a TOML file (optional when path is empty), applies defaults and
// TESTBOARD_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first unusable setting wrapped in ErrInvalid.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Result.Dir) == "":
		return fmt.Errorf("%w: result.dir is empty", ErrInvalid)
	case strings.TrimSpace(c.Result.HistoryDir) == "":
		return fmt.Errorf("%w: result.history_dir is empty", ErrInvalid)
	case c.Watch.Mode != WatchPoll && c.Watch.Mode != WatchFSNotify:
		return fmt.Errorf("%w: watch.mode %q (want %s or %s)", ErrInvalid, c.Watch.Mode, WatchPoll, WatchFSNotify)
	case c.Watch.Interval <= 0:
		return fmt.Errorf("%w: watch.interval must be positive", ErrInvalid)
	case c.Watch.Debounce <= 0:
		return fmt.Errorf("%w: watch.debounce must be positive", ErrInvalid)
	case strings.TrimSpace(c.Log.Dir) == "":
		return fmt.Errorf("%w: log.dir is empty", ErrInvalid)
	case c.Log.Mode != string(logger.ModeContinuous) && c.Log.Mode != string(logger.ModeSingle):
		return fmt.Errorf("%w: log.mode %q (want %s or %s)", ErrInvalid, c.Log.Mode, logger.ModeContinuous, logger.ModeSingle)
	case c.Log.CheckInterval <= 0:
		return fmt.Errorf("%w: log.check_interval must be positive", ErrInvalid)
	case c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0:
		return fmt.Errorf("%w: log size and retention limits must not be negative", ErrInvalid)
	case c.Log.Format != string(logger.FormatText) && c.Log.Format != string(logger.FormatJSON):
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	case c.Server.SubscriberBuffer <= 0:
		return fmt.Errorf("%w: server.subscriber_buffer must be positive", ErrInvalid)
	}
	return nil
}

// Logger converts the [log] section, forcing mode when non-empty (the CLI picks
// single-run mode for one-shot commands).
func (c Config) Logger(mode logger.Mode) logger.Config {
	if mode == "" {
		mode = logger.Mode(c.Log.Mode)
	}
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(c.Log.Level),
			Format:     logger.Format(c.Log.Format),
			Color:      c.Log.Color,
			TimeStamps: true,
			Source:     true,
		},
		File: logger.FileConfig{
			Dir:           c.Log.Dir,
			Mode:          mode,
			CheckInterval: c.Log.CheckInterval,
			MaxSizeMB:     c.Log.MaxSizeMB,
			MaxBackups:    c.Log.MaxBackups,
			MaxAgeDays:    c.Log.MaxAgeDays,
			Compress:      c.Log.Compress,
		},
	}
}
