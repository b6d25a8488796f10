package speech

import (
	"context"

	"github.com/Vovarama1992/voice_turn/internal/ports"
)

// STTClient: голос → текст
type STTClient interface {
	Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error)
}

// LLMClient: текст → ответ модели
type LLMClient interface {
	GenerateReply(ctx context.Context, text string) (string, error)
}

// TTSClient: текст → голос
type TTSClient interface {
	Synthesize(ctx context.Context, text string) (*ports.AudioHandle, error)
}
