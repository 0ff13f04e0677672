package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// PostgresJournalStore persists journals in a single append-only table.
// The (actor_key, seq) primary key doubles as the optimistic-concurrency
// check: a second writer with the same expected sequence hits a unique
// violation and the append is rejected.
type PostgresJournalStore struct {
	db *sql.DB
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
    actor_key   TEXT        NOT NULL,
    seq         BIGINT      NOT NULL,
    event_type  TEXT        NOT NULL,
    payload     JSONB       NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (actor_key, seq)
)`

func NewPostgresJournalStore(dsn string) (*PostgresJournalStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure journal table: %w", err)
	}

	slog.Info("Postgres journal store connected")
	return &PostgresJournalStore{db: db}, nil
}

func (s *PostgresJournalStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJournalStore) Append(ctx context.Context, actorKey string, expectedSeq int64, events []StoredEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM journal WHERE actor_key = $1`, actorKey,
	).Scan(&current)
	if err != nil {
		return err
	}
	if current.Int64 != expectedSeq {
		return fmt.Errorf("%w: %s at %d, expected %d", ErrSeqConflict, actorKey, current.Int64, expectedSeq)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO journal (actor_key, seq, event_type, payload, recorded_at) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, actorKey, ev.Seq, ev.Type, ev.Payload, ev.RecordedAt); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("%w: %s seq=%d", ErrSeqConflict, actorKey, ev.Seq)
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresJournalStore) Load(ctx context.Context, actorKey string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_type, payload, recorded_at FROM journal WHERE actor_key = $1 ORDER BY seq`, actorKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.Seq, &ev.Type, &ev.Payload, &ev.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
