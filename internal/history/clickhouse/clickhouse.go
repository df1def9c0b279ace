package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/pdpwatch/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

type Options struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

// Sink writes events to ClickHouse over the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(ctx context.Context, o Options) (*Sink, error) {
	if o.Table == "" {
		o.Table = "supervision_events"
	}
	if !tableName.MatchString(o.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", o.Table)
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: o.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		occurred_at DateTime64(6),
		type LowCardinality(String),
		service String,
		pid UInt32,
		run_id String,
		exit_code Nullable(Int32),
		reason String,
		from_state LowCardinality(String),
		to_state LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (service, occurred_at)`)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var exit *int32
	if e.ExitCode != nil {
		v := int32(*e.ExitCode)
		exit = &v
	}
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (occurred_at, type, service, pid, run_id, exit_code, reason, from_state, to_state) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(), string(e.Type), e.Service, uint32(e.PID), e.RunID, exit, e.Reason, e.From, e.To,
	)
	if err != nil {
		return fmt.Errorf("insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
