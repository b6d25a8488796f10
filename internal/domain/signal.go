package domain

import (
	"fmt"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
)

type SignalKind string

const (
	SignalListeningStarted SignalKind = "listening_started"
	SignalListeningStopped SignalKind = "listening_stopped"
	SignalTranscribed      SignalKind = "transcribed"
	SignalReplied          SignalKind = "replied"
	SignalAudioReady       SignalKind = "audio_ready"
	SignalPlaybackStarted  SignalKind = "playback_started"
	SignalPlaybackEnded    SignalKind = "playback_ended"
	SignalCancelled        SignalKind = "cancelled"
	SignalFailed           SignalKind = "failed"
)

// PipelineSignal: неизменяемое событие перехода состояния хода.
type PipelineSignal struct {
	Kind   SignalKind  `json:"type"`
	TurnID uint64      `json:"turn_id"`
	Text   string      `json:"text,omitempty"`
	Stage  ports.Stage `json:"stage,omitempty"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

func (s PipelineSignal) String() string {
	switch s.Kind {
	case SignalTranscribed, SignalReplied:
		return fmt.Sprintf("%s(%q)", s.Kind, s.Text)
	case SignalFailed:
		return fmt.Sprintf("%s(%s, %s)", s.Kind, s.Stage, s.Reason)
	}
	return string(s.Kind)
}

// Terminal reports whether the signal closes its turn.
func (s PipelineSignal) Terminal() bool {
	return s.Kind == SignalPlaybackEnded || s.Kind == SignalCancelled || s.Kind == SignalFailed
}
