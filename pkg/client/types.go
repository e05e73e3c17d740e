package client

import "github.com/loykin/testboard/internal/watch"

// Summary mirrors the counters of a summarized result file.
type Summary struct {
	Total    int     `json:"total"`
	Success  int     `json:"success"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

// StepFailure is one row of the failure tally.
type StepFailure struct {
	Step     string `json:"step"`
	Failures int    `json:"failures"`
}

// Report is the full summary of one result file.
type Report struct {
	Key  string `json:"key"`
	Date string `json:"date"`
	Summary
	StepFailures []StepFailure `json:"step_failures"`
}

// HistoryEntry is one archived result file.
type HistoryEntry struct {
	Key  string `json:"key"`
	Date string `json:"date"`
	Summary
}

// Data is the combined dashboard payload.
type Data struct {
	Current *Report        `json:"current"`
	History []HistoryEntry `json:"history"`
}

// Change is a live notification that files appeared in or vanished from a directory.
type Change struct {
	Type      string     `json:"type"`
	Directory watch.Kind `json:"directory"`
	Added     []string   `json:"added"`
	Removed   []string   `json:"removed"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
