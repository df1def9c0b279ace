package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/pdpwatch/internal/history"
)

// Sink appends supervision events to a SQLite table.
type Sink struct {
	db *sql.DB
}

// New opens a SQLite sink. Accepted DSNs:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db"
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent across queries.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS supervision_events(
			occurred_at TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			service TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL DEFAULT '',
			exit_code INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			from_state TEXT NOT NULL DEFAULT '',
			to_state TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_events_service ON supervision_events(service, occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var exit any
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervision_events(occurred_at, type, service, pid, run_id, exit_code, reason, from_state, to_state)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Service, e.PID, e.RunID, exit, e.Reason, e.From, e.To)
	return err
}

// Count returns the number of stored events of type t for service.
func (s *Sink) Count(ctx context.Context, service string, t history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM supervision_events WHERE service = ? AND type = ?`,
		service, string(t)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
