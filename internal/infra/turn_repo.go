package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/lib/pq"
)

var ErrDuplicateTurn = errors.New("turn already journaled")

// Schema: таблица журнала ходов.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id          BIGSERIAL PRIMARY KEY,
	turn_key    TEXT        NOT NULL UNIQUE,
	outcome     TEXT        NOT NULL,
	stage       TEXT,
	reason      TEXT,
	transcript  TEXT,
	reply_text  TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL
)`

type turnRepo struct {
	db *sql.DB
}

func NewTurnRepo(db *sql.DB) ports.TurnRepo {
	return &turnRepo{db: db}
}

// EnsureSchema создаёт таблицу, если её нет.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

func (r *turnRepo) Insert(ctx context.Context, rec ports.TurnRecord) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO turns (turn_key, outcome, stage, reason, transcript, reply_text, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		rec.Key,
		string(rec.Outcome),
		nullString(string(rec.Stage)),
		nullString(rec.Reason),
		nullString(rec.Transcript),
		nullString(rec.ReplyText),
		rec.StartedAt,
		rec.EndedAt,
	).Scan(&id)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateTurn, rec.Key)
	}
	return id, err
}

func (r *turnRepo) ListRecent(ctx context.Context, limit int) ([]ports.JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, turn_key, outcome, stage, reason, transcript, reply_text, started_at, ended_at
		FROM turns
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.JournalEntry
	for rows.Next() {
		var e ports.JournalEntry
		var outcome string
		if err := rows.Scan(
			&e.ID,
			&e.TurnKey,
			&outcome,
			&e.Stage,
			&e.Reason,
			&e.Transcript,
			&e.ReplyText,
			&e.StartedAt,
			&e.EndedAt,
		); err != nil {
			return nil, err
		}
		e.Outcome = ports.TurnOutcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
