package ports

import "context"

// Stage: шаг конвейера.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StagePlay       Stage = "play"
)

// SpeechPipeline: три независимых удалённых шага. Без ретраев внутри.
type SpeechPipeline interface {
	Transcribe(ctx context.Context, h *AudioHandle) (string, error)
	GenerateReply(ctx context.Context, text string) (string, error)
	Synthesize(ctx context.Context, text string) (*AudioHandle, error)
}
