package domain

import (
	"context"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"go.uber.org/zap"
)

// JournalService пишет итог каждого хода в Postgres.
type JournalService struct {
	repo ports.TurnRepo
	log  *zap.SugaredLogger
}

func NewJournalService(repo ports.TurnRepo, log *zap.SugaredLogger) *JournalService {
	return &JournalService{repo: repo, log: log}
}

// RecordTurn сохраняет запись асинхронно, ход не ждёт базу.
func (s *JournalService) RecordTurn(rec ports.TurnRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		id, err := s.repo.Insert(ctx, rec)
		if err != nil {
			s.log.Errorw("[journal] insert failed", "turn", rec.Key, "err", err)
			return
		}
		s.log.Debugw("[journal] saved", "turn", rec.Key, "id", id, "outcome", rec.Outcome)
	}()
}

func (s *JournalService) Recent(ctx context.Context, limit int) ([]ports.JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListRecent(ctx, limit)
}
