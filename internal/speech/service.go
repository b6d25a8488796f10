package speech

import (
	"context"
	"errors"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"go.uber.org/zap"
)

const ReasonProvider = "provider-error"

// Service собирает конвейер из отдельных провайдеров (прямой режим)
// и приводит их ошибки к PipelineError.
type Service struct {
	stt STTClient
	llm LLMClient
	tts TTSClient
	log *zap.SugaredLogger
}

func NewService(stt STTClient, llm LLMClient, tts TTSClient, log *zap.SugaredLogger) *Service {
	return &Service{
		stt: stt,
		llm: llm,
		tts: tts,
		log: log,
	}
}

func (s *Service) Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error) {
	start := time.Now()
	text, err := s.stt.Transcribe(ctx, h)
	s.log.Debugw("[speech] transcribe", "took", time.Since(start).String(), "err", err)
	if err != nil {
		return "", stageError(ports.StageTranscribe, err)
	}
	return text, nil
}

func (s *Service) GenerateReply(ctx context.Context, text string) (string, error) {
	start := time.Now()
	reply, err := s.llm.GenerateReply(ctx, text)
	s.log.Debugw("[speech] generate", "took", time.Since(start).String(), "err", err)
	if err != nil {
		return "", stageError(ports.StageGenerate, err)
	}
	return reply, nil
}

func (s *Service) Synthesize(ctx context.Context, text string) (*ports.AudioHandle, error) {
	start := time.Now()
	h, err := s.tts.Synthesize(ctx, text)
	s.log.Debugw("[speech] synthesize", "took", time.Since(start).String(), "err", err)
	if err != nil {
		return nil, stageError(ports.StageSynthesize, err)
	}
	return h, nil
}

func stageError(stage ports.Stage, err error) error {
	var pe *ports.PipelineError
	if errors.As(err, &pe) {
		if pe.Stage == stage {
			return pe
		}
		return ports.NewPipelineError(stage, pe.Reason, pe.Err)
	}
	if errors.Is(err, context.Canceled) {
		return ports.NewPipelineError(stage, "cancelled", err)
	}
	return ports.NewPipelineError(stage, ReasonProvider, err)
}
