package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ArchiveService складывает аудио завершённых ходов в S3.
type ArchiveService struct {
	client ports.S3Client
	log    *zap.SugaredLogger
}

func NewArchiveService(client ports.S3Client, log *zap.SugaredLogger) *ArchiveService {
	return &ArchiveService{client: client, log: log}
}

// ObjectKey: путь в бакете
func (s *ArchiveService) ObjectKey(rec ports.TurnRecord, name string) string {
	date := rec.StartedAt.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s", date, rec.Key, name)
}

// RecordTurn архивирует только успешные ходы.
func (s *ArchiveService) RecordTurn(rec ports.TurnRecord) {
	if rec.Outcome != ports.OutcomeCompleted {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Archive(ctx, rec); err != nil {
			s.log.Errorw("[archive] upload failed", "turn", rec.Key, "err", err)
		}
	}()
}

func (s *ArchiveService) Archive(ctx context.Context, rec ports.TurnRecord) error {
	if len(rec.AudioIn) > 0 {
		ext := rec.AudioInExt
		if ext == "" {
			ext = "bin"
		}
		url, err := s.client.PutObject(ctx, s.ObjectKey(rec, "in."+ext), rec.AudioIn, contentTypeOr(rec.AudioInType))
		if err != nil {
			return fmt.Errorf("upload recording: %w", err)
		}
		s.log.Infow("[archive] recording", "turn", rec.Key, "size", humanize.Bytes(uint64(len(rec.AudioIn))), "url", url)
	}
	if len(rec.AudioOut) > 0 {
		url, err := s.client.PutObject(ctx, s.ObjectKey(rec, "out.mp3"), rec.AudioOut, contentTypeOr(rec.AudioOutType))
		if err != nil {
			return fmt.Errorf("upload reply: %w", err)
		}
		s.log.Infow("[archive] reply", "turn", rec.Key, "size", humanize.Bytes(uint64(len(rec.AudioOut))), "url", url)
	}
	return nil
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
