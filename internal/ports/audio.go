package ports

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AudioHandle: непрозрачная ссылка на запись или синтезированный ответ.
// Ядро не интерпретирует содержимое, только передаёт между сервисами.
type AudioHandle struct {
	URI      string // локальный путь (или file://...)
	Data     []byte // либо байты в памяти
	MimeType string

	once    sync.Once
	release func() error
	relErr  error
}

func NewAudioHandle(uri string, data []byte, mimeType string, release func() error) *AudioHandle {
	return &AudioHandle{
		URI:      uri,
		Data:     data,
		MimeType: mimeType,
		release:  release,
	}
}

var ErrEmptyHandle = errors.New("audio handle is empty")

// Path returns the local file path behind URI, if any.
func (h *AudioHandle) Path() string {
	if h == nil {
		return ""
	}
	return strings.TrimPrefix(h.URI, "file://")
}

// Bytes returns the in-memory payload or reads the file behind URI.
func (h *AudioHandle) Bytes() ([]byte, error) {
	if h == nil {
		return nil, ErrEmptyHandle
	}
	if len(h.Data) > 0 {
		return h.Data, nil
	}
	if h.URI == "" {
		return nil, ErrEmptyHandle
	}
	return os.ReadFile(h.Path())
}

// Ext возвращает расширение без точки: из URI, иначе из MIME.
func (h *AudioHandle) Ext() string {
	if h == nil {
		return ""
	}
	if ext := strings.TrimPrefix(filepath.Ext(h.Path()), "."); ext != "" {
		return ext
	}
	switch h.MimeType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	}
	if exts, _ := mime.ExtensionsByType(h.MimeType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// Release frees the resource. Safe to call more than once and on nil.
func (h *AudioHandle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if h.release != nil {
			h.relErr = h.release()
		}
	})
	return h.relErr
}

// CaptureOptions: единая конфигурация записи; платформенные адаптеры
// переводят её в свои параметры.
type CaptureOptions struct {
	Container      string // wav, m4a, ...
	SampleRate     int
	Channels       int
	BitRate        int
	EncoderQuality string // min, low, medium, high, max
	Device         string // пусто = устройство по умолчанию
}

// AudioCapture: жизненный цикл микрофона.
type AudioCapture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*AudioHandle, error)
}

type PlaybackEventKind string

const (
	PlaybackStarted PlaybackEventKind = "started"
	PlaybackEnded   PlaybackEventKind = "ended"
	PlaybackFailed  PlaybackEventKind = "error"
)

type PlaybackEvent struct {
	Kind PlaybackEventKind
	Err  error
}

// PlaybackSubscription delivers events for one Play call. Events is closed
// after ended/error or once the subscription is closed.
type PlaybackSubscription interface {
	Events() <-chan PlaybackEvent
	Close() error
}

// AudioPlayback: воспроизведение синтезированного ответа.
type AudioPlayback interface {
	Play(ctx context.Context, h *AudioHandle) (PlaybackSubscription, error)
	// Stop halts playback immediately; no ended event fires afterwards.
	Stop() error
}
