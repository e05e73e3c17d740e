package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/testboard/internal/history"
)

// Sink writes history records to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + history.Table + `(
		result_key TEXT PRIMARY KEY,
		result_date TEXT NOT NULL,
		total INTEGER NOT NULL,
		success INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		pass_rate REAL NOT NULL,
		observed_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP)
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// Send upserts the record; re-archiving a key replaces its previous summary.
func (s *Sink) Send(ctx context.Context, r history.Record) error {
	sm := r.Summary
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+history.Table+`(result_key, result_date, total, success, failed, skipped, pass_rate, observed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(result_key) DO UPDATE SET
			total = excluded.total, success = excluded.success, failed = excluded.failed,
			skipped = excluded.skipped, pass_rate = excluded.pass_rate, observed_at = excluded.observed_at;`,
		r.Key, r.Date, sm.Total, sm.Success, sm.Failed, sm.Skipped, sm.PassRate, r.ObservedAt.UTC())
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
