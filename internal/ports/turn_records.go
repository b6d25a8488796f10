package ports

import (
	"context"
	"time"
)

type TurnOutcome string

const (
	OutcomeCompleted TurnOutcome = "completed"
	OutcomeFailed    TurnOutcome = "failed"
	OutcomeCancelled TurnOutcome = "cancelled"
)

// TurnRecord: итог завершённого хода. Аудио заполняется только для
// рекордеров, которые его запросили.
type TurnRecord struct {
	TurnID     uint64      `json:"turn_id"`
	Key        string      `json:"key"`
	Outcome    TurnOutcome `json:"outcome"`
	Stage      Stage       `json:"stage,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	ReplyText  string      `json:"reply_text,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`

	AudioIn      []byte `json:"-"`
	AudioInType  string `json:"-"`
	AudioInExt   string `json:"-"`
	AudioOut     []byte `json:"-"`
	AudioOutType string `json:"-"`
}

func (r TurnRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// TurnRecorder receives every finished turn. Must not block the caller.
type TurnRecorder interface {
	RecordTurn(rec TurnRecord)
}

// Репозиторий Postgres для журнала ходов
type TurnRepo interface {
	Insert(ctx context.Context, rec TurnRecord) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]JournalEntry, error)
}

// JournalEntry: строка журнала
type JournalEntry struct {
	ID         int64       `json:"id"`
	TurnKey    string      `json:"turn_key"`
	Outcome    TurnOutcome `json:"outcome"`
	Stage      *string     `json:"stage,omitempty"`
	Reason     *string     `json:"reason,omitempty"`
	Transcript *string     `json:"transcript,omitempty"`
	ReplyText  *string     `json:"reply_text,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
}

// Низкоуровневый клиент к S3
type S3Client interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) (publicURL string, err error)
}
