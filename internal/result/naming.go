package result

import (
	"fmt"
	"strings"
	"time"
)

const (
	// KeyLayout is the canonical timestamp key and history filename stem, e.g. 20250308_022824.
	KeyLayout = "20060102_150405"
	// DisplayLayout is the human form of a key, e.g. 2025-03-08 02:28:24.
	DisplayLayout = "2006-01-02 15:04:05"

	FileExt = ".json"

	// DefaultCurrentAlias is the non-timestamped alias that scans always ignore.
	DefaultCurrentAlias = "current.json"
)

// IsResultName reports whether name is a candidate file in the result directory:
// any .json file except the current alias.
func IsResultName(name, alias string) bool {
	if alias == "" {
		alias = DefaultCurrentAlias
	}
	return strings.HasSuffix(name, FileExt) && name != alias
}

// ParseHistoryName validates a history filename of the exact form YYYYMMDD_HHMMSS.json
// and returns its timestamp.
func ParseHistoryName(name string) (time.Time, error) {
	stem, ok := strings.CutSuffix(name, FileExt)
	if !ok {
		return time.Time{}, fmt.Errorf("history file %q: missing %s extension", name, FileExt)
	}
	t, err := time.ParseInLocation(KeyLayout, stem, time.UTC)
	if err != nil || t.Format(KeyLayout) != stem {
		return time.Time{}, fmt.Errorf("history file %q: name does not match %s%s", name, KeyLayout, FileExt)
	}
	return t, nil
}

// NormalizeKey accepts a key in either the canonical (20250308_022824) or the human
// (2025-03-08 02:28:24) form and returns the canonical form.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	for _, layout := range []string{KeyLayout, DisplayLayout} {
		if t, err := time.ParseInLocation(layout, key, time.UTC); err == nil && t.Format(layout) == key {
			return t.Format(KeyLayout), nil
		}
	}
	return "", fmt.Errorf("invalid timestamp key %q", key)
}

// HistoryFileName returns the archive filename for a key in either accepted form.
func HistoryFileName(key string) (string, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}
	return k + FileExt, nil
}

// DisplayDate renders a parsed key timestamp the way history entries show it.
func DisplayDate(t time.Time) string { return t.Format(DisplayLayout) }
