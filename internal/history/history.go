package history

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/testboard/internal/result"
)

// Table is the relational table every SQL sink writes to.
const Table = "result_history"

// Record is the summary of one archived result file, exported to analytics systems.
type Record struct {
	Key        string         `json:"key"`  // canonical timestamp key, e.g. 20250308_022824
	Date       string         `json:"date"` // display form of Key
	Summary    result.Summary `json:"summary"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Sink is a destination for history records (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, r Record) error
}

// Multi sends each record to every sink and joins the errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
