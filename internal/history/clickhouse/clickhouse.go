package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/testboard/internal/history"
)

// Sink sends records to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port of the native protocol) and creates table if missing.
func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = history.Table
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema uses ReplacingMergeTree so a re-archived key collapses to its latest row.
func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			result_key String,
			result_date String,
			total UInt32,
			success UInt32,
			failed UInt32,
			skipped UInt32,
			pass_rate Float64,
			observed_at DateTime64(6)
		) ENGINE = ReplacingMergeTree(observed_at)
		ORDER BY result_key
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r history.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (result_key, result_date, total, success, failed, skipped, pass_rate, observed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	sm := r.Summary
	err := s.conn.Exec(ctx, query,
		r.Key,
		r.Date,
		uint32(sm.Total),
		uint32(sm.Success),
		uint32(sm.Failed),
		uint32(sm.Skipped),
		sm.PassRate,
		r.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record into ClickHouse: %w", err)
	}

	return nil
}
