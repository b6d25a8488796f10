package error_notificator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ai"
	"github.com/Vovarama1992/voice_turn/internal/domain"
	"go.uber.org/zap"
)

const source = "voice_turn"

type Service struct {
	infra Notificator
	log   *zap.SugaredLogger
}

func NewService(infra Notificator, log *zap.SugaredLogger) *Service {
	return &Service{infra: infra, log: log}
}

func (s *Service) Notify(ctx context.Context, source string, err error, details string) error {
	return s.infra.Notify(ctx, source, err, details)
}

// Watch сообщает админу о каждом проваленном ходе.
func (s *Service) Watch(ctx context.Context, signals <-chan domain.PipelineSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if sig.Kind != domain.SignalFailed {
				continue
			}
			s.notifyFailed(ctx, sig)
		}
	}
}

func (s *Service) notifyFailed(ctx context.Context, sig domain.PipelineSignal) {
	err := errors.New(sig.Reason)
	details := fmt.Sprintf("Ход #%d, стадия %s, %s\n\n%s",
		sig.TurnID, sig.Stage, sig.At.Format(time.RFC3339), ai.Diagnose(err))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if nerr := s.infra.Notify(ctx, source, err, details); nerr != nil {
		s.log.Warnw("[error_notificator] notify failed", "turn", sig.TurnID, "err", nerr)
	}
}
