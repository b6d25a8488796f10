package domain

import (
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"go.uber.org/multierr"
)

type TurnState string

const (
	StateIdle         TurnState = "idle"
	StateCapturing    TurnState = "capturing"
	StateTranscribing TurnState = "transcribing"
	StateGenerating   TurnState = "generating"
	StateSynthesizing TurnState = "synthesizing"
	StatePlaying      TurnState = "playing"
	StateCancelling   TurnState = "cancelling"
	StateFailed       TurnState = "failed"
)

// stageState: состояние, в котором ожидается результат шага.
func stageState(stage ports.Stage) TurnState {
	switch stage {
	case ports.StageCapture:
		return StateCapturing
	case ports.StageTranscribe:
		return StateTranscribing
	case ports.StageGenerate:
		return StateGenerating
	case ports.StageSynthesize:
		return StateSynthesizing
	case ports.StagePlay:
		return StatePlaying
	}
	return StateIdle
}

// Turn: один цикл «фраза пользователя → голосовой ответ».
// Меняется только из цикла TurnController.
type Turn struct {
	ID         uint64
	Key        string
	State      TurnState
	AudioIn    *ports.AudioHandle
	Transcript string
	ReplyText  string
	AudioOut   *ports.AudioHandle
	StartedAt  time.Time
	EndedAt    time.Time
	Cancelled  bool

	playbackStarted bool
}

func (t *Turn) release() error {
	return multierr.Combine(t.AudioIn.Release(), t.AudioOut.Release())
}

func (t *Turn) record(outcome ports.TurnOutcome, stage ports.Stage, reason string) ports.TurnRecord {
	return ports.TurnRecord{
		TurnID:     t.ID,
		Key:        t.Key,
		Outcome:    outcome,
		Stage:      stage,
		Reason:     reason,
		Transcript: t.Transcript,
		ReplyText:  t.ReplyText,
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
	}
}
