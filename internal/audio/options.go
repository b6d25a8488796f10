package audio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Vovarama1992/voice_turn/internal/ports"
)

// DefaultCaptureOptions: m4a/AAC, 44.1 kHz, стерео, 128 kbit/s.
func DefaultCaptureOptions() ports.CaptureOptions {
	return ports.CaptureOptions{
		Container:      "m4a",
		SampleRate:     44100,
		Channels:       2,
		BitRate:        128000,
		EncoderQuality: "high",
	}
}

// inputArgs возвращает платформенную часть: откуда ffmpeg берёт микрофон.
func inputArgs(goos, device string) []string {
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{"-f", "avfoundation", "-i", ":" + device}
	case "windows":
		if device == "" {
			device = "default"
		}
		return []string{"-f", "dshow", "-i", "audio=" + device}
	default:
		if device == "" {
			device = "default"
		}
		return []string{"-f", "pulse", "-i", device}
	}
}

// qscale for libmp3lame/vorbis: lower is better for mp3.
var mp3Quality = map[string]string{
	"max":    "0",
	"high":   "2",
	"medium": "4",
	"low":    "6",
	"min":    "9",
}

func encodeArgs(opts ports.CaptureOptions) []string {
	var args []string
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.Channels))
	}

	switch containerOf(opts) {
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	case "mp3":
		args = append(args, "-c:a", "libmp3lame")
		if q, ok := mp3Quality[strings.ToLower(opts.EncoderQuality)]; ok {
			args = append(args, "-q:a", q)
		} else if opts.BitRate > 0 {
			args = append(args, "-b:a", strconv.Itoa(opts.BitRate))
		}
	case "ogg":
		args = append(args, "-c:a", "libopus")
		if opts.BitRate > 0 {
			args = append(args, "-b:a", strconv.Itoa(opts.BitRate))
		}
	default:
		args = append(args, "-c:a", "aac")
		if opts.BitRate > 0 {
			args = append(args, "-b:a", strconv.Itoa(opts.BitRate))
		}
	}
	return args
}

// BuildCaptureArgs: полный список аргументов ffmpeg для записи в outPath.
func BuildCaptureArgs(goos string, opts ports.CaptureOptions, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-y"}
	args = append(args, inputArgs(goos, opts.Device)...)
	args = append(args, encodeArgs(opts)...)
	return append(args, outPath)
}

func containerOf(opts ports.CaptureOptions) string {
	c := strings.ToLower(strings.TrimPrefix(opts.Container, "."))
	if c == "" {
		return "m4a"
	}
	return c
}

func mimeOf(container string) string {
	switch container {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "m4a", "mp4", "aac":
		return "audio/mp4"
	}
	return fmt.Sprintf("audio/%s", container)
}
