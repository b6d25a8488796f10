package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (ports.TurnRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTurnRepo(db), mock
}

func TestTurnRepo_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rec := ports.TurnRecord{
		Key:        "turn-1",
		Outcome:    ports.OutcomeFailed,
		Stage:      ports.StageGenerate,
		Reason:     "status 500",
		Transcript: "hello",
		StartedAt:  started,
		EndedAt:    started.Add(3 * time.Second),
	}

	// пустой ответ уходит как NULL
	mock.ExpectQuery(`INSERT INTO turns`).
		WithArgs("turn-1", "failed", "generate", "status 500", "hello", nil, rec.StartedAt, rec.EndedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Insert(context.Background(), rec)

	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepo_InsertDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`INSERT INTO turns`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.Insert(context.Background(), ports.TurnRecord{Key: "turn-1", Outcome: ports.OutcomeCompleted})

	assert.ErrorIs(t, err, ErrDuplicateTurn)
	assert.ErrorContains(t, err, "turn-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepo_InsertOtherError(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO turns`).WillReturnError(boom)

	_, err := repo.Insert(context.Background(), ports.TurnRecord{Key: "turn-2", Outcome: ports.OutcomeCompleted})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicateTurn)
}

func TestTurnRepo_ListRecent(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "turn_key", "outcome", "stage", "reason", "transcript", "reply_text", "started_at", "ended_at"}
	mock.ExpectQuery(`SELECT id, turn_key, outcome`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(2), "turn-2", "completed", nil, nil, "hello", "hi there", started.Add(time.Minute), started.Add(time.Minute+time.Second)).
			AddRow(int64(1), "turn-1", "failed", "transcribe", "empty-result", nil, nil, started, started.Add(time.Second)))

	items, err := repo.ListRecent(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, ports.OutcomeCompleted, items[0].Outcome)
	assert.Nil(t, items[0].Stage)
	assert.Nil(t, items[0].Reason)
	require.NotNil(t, items[0].ReplyText)
	assert.Equal(t, "hi there", *items[0].ReplyText)

	assert.Equal(t, ports.OutcomeFailed, items[1].Outcome)
	require.NotNil(t, items[1].Reason)
	assert.Equal(t, "empty-result", *items[1].Reason)
	assert.Nil(t, items[1].Transcript)
	assert.Equal(t, started, items[1].StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTurnRepo_ListRecentScanError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT id, turn_key, outcome`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := repo.ListRecent(context.Background(), 10)

	assert.Error(t, err)
}
