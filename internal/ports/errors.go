package ports

import (
	"errors"
	"fmt"
)

const ReasonEmptyResult = "empty-result"

var (
	ErrNoPermission = errors.New("microphone permission denied")
	ErrDeviceBusy   = errors.New("audio device busy")
	ErrNotCapturing = errors.New("no active capture")

	// ErrEmptyRecording: ffmpeg не оставил файла или файл пустой.
	ErrEmptyRecording = errors.New("empty recording")
)

// CaptureError: ошибки микрофона (права, занятое устройство, нет записи).
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PipelineError описывает сбой удалённого шага (транспорт, статус или пустой ответ).
type PipelineError struct {
	Stage  Stage
	Reason string
	Err    error
}

func NewPipelineError(stage Stage, reason string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Reason: reason, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// PlaybackError: декодирование или вывод звука.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// ReasonOf turns an error into the short reason carried by a Failed signal.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Reason != "" {
		return pe.Reason
	}
	var ce *CaptureError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	var ple *PlaybackError
	if errors.As(err, &ple) && ple.Err != nil {
		return ple.Err.Error()
	}
	return err.Error()
}
