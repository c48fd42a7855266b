package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/stackctl/internal/history"
)

// Sink writes audit events to PostgreSQL.
type Sink struct {
	db *sql.DB
}

// New creates a PostgreSQL audit sink from a standard postgres:// DSN.
func New(dsn string) (*Sink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ops_history(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			op TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			signaled INTEGER NOT NULL,
			reclaimed INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			survivors INTEGER NOT NULL,
			backend TEXT,
			artifact TEXT,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_history_op ON ops_history(op);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_history_occurred_at ON ops_history(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ops_history(occurred_at, op, outcome, duration_ms, signaled, reclaimed, cleared, survivors, backend, artifact, detail)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`,
		e.OccurredAt.UTC(), string(e.Op), string(e.Outcome), e.Duration.Milliseconds(),
		e.Signaled, e.Reclaimed, e.Cleared, e.Survivors, e.Backend, e.Artifact, e.Detail)
	return err
}

func (s *Sink) Close() error { return s.db.Close() }
