package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

const (
	ModeRemote = "remote"
	ModeDirect = "direct"

	DefaultPipelineBaseURL = "https://redsync.vercel.app/api"
)

type Config struct {
	Port     string
	Headless bool

	// --- конвейер ---
	PipelineMode    string
	PipelineBaseURL string

	OpenAIKey    string
	OpenAIModel  string
	SystemPrompt string

	STTProvider      string // whisper | deepgram
	DeepgramKey      string
	DeepgramLanguage string

	ElevenLabsKey   string
	ElevenLabsVoice string

	// --- звук ---
	Capture    ports.CaptureOptions
	FFmpegPath string
	FFplayPath string
	FFprobe    string
	AudioDir   string

	// --- экран ---
	LoadingMode       string
	LoadingMinDisplay time.Duration
	LoadingTimeout    time.Duration
	RevealInterval    time.Duration

	ToggleRateLimit int

	// --- опциональные приёмники ---
	DatabaseURL string
	S3          S3
	Telegram    Telegram
}

type S3 struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Insecure  bool
}

func (s S3) Enabled() bool { return s.Bucket != "" }

type Telegram struct {
	Token       string
	AdminChatID int64
}

func (t Telegram) Enabled() bool { return t.Token != "" && t.AdminChatID != 0 }

// Flags: переопределения из командной строки (github.com/jessevdk/go-flags).
type Flags struct {
	EnvFile  string `long:"env-file" default:".env" description:"path to .env file"`
	Port     string `short:"p" long:"port" description:"control API port"`
	Headless bool   `long:"headless" description:"no terminal renderer and no stdin control"`
	Mode     string `long:"mode" choice:"remote" choice:"direct" description:"speech pipeline backend"`
}

// LoadEnvFile loads the file if it exists; a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() (Config, error) {
	return FromEnv(os.Getenv)
}

// FromEnv reads the configuration through getenv. Parse errors of all
// variables are combined; call Validate after applying flags.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		Port: r.str("PORT", "8080"),

		PipelineMode:    strings.ToLower(r.str("PIPELINE_MODE", ModeRemote)),
		PipelineBaseURL: r.str("PIPELINE_BASE_URL", DefaultPipelineBaseURL),

		OpenAIKey:    r.str("OPENAI_API_KEY", ""),
		OpenAIModel:  r.str("OPENAI_MODEL", ""),
		SystemPrompt: r.str("SYSTEM_PROMPT", ""),

		STTProvider:      strings.ToLower(r.str("STT_PROVIDER", "whisper")),
		DeepgramKey:      r.str("DEEPGRAM_API_KEY", ""),
		DeepgramLanguage: r.str("DEEPGRAM_LANGUAGE", "ru"),

		ElevenLabsKey:   r.str("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoice: r.str("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),

		Capture: ports.CaptureOptions{
			Container:      r.str("CAPTURE_CONTAINER", "m4a"),
			SampleRate:     r.intVal("CAPTURE_SAMPLE_RATE", 44100),
			Channels:       r.intVal("CAPTURE_CHANNELS", 2),
			BitRate:        r.intVal("CAPTURE_BIT_RATE", 128000),
			EncoderQuality: r.str("CAPTURE_QUALITY", "high"),
			Device:         r.str("CAPTURE_DEVICE", ""),
		},
		FFmpegPath: r.str("FFMPEG_PATH", "ffmpeg"),
		FFplayPath: r.str("FFPLAY_PATH", "ffplay"),
		FFprobe:    r.str("FFPROBE_PATH", "ffprobe"),
		AudioDir:   r.str("AUDIO_DIR", os.TempDir()),

		LoadingMode:       strings.ToLower(r.str("LOADING_MODE", "signal")),
		LoadingMinDisplay: r.dur("LOADING_MIN_DISPLAY", 300*time.Millisecond),
		LoadingTimeout:    r.dur("LOADING_TIMEOUT", 2*time.Second),
		RevealInterval:    r.dur("REVEAL_INTERVAL", 56*time.Millisecond),

		ToggleRateLimit: r.intVal("TOGGLE_RATE_LIMIT", 60),

		DatabaseURL: r.str("DATABASE_URL", ""),
		S3: S3{
			Endpoint:  r.str("S3_ENDPOINT", ""),
			AccessKey: r.str("S3_ACCESS_KEY", ""),
			SecretKey: r.str("S3_SECRET_KEY", ""),
			Bucket:    r.str("S3_BUCKET", ""),
			Region:    r.str("S3_REGION", ""),
			Insecure:  r.boolVal("S3_INSECURE", false),
		},
		Telegram: Telegram{
			Token:       r.str("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: r.int64Val("TELEGRAM_ADMIN_CHAT_ID", 0),
		},
	}

	return cfg, r.err
}

// Apply накладывает флаги поверх окружения.
func (c *Config) Apply(f Flags) {
	if f.Port != "" {
		c.Port = f.Port
	}
	if f.Mode != "" {
		c.PipelineMode = f.Mode
	}
	c.Headless = c.Headless || f.Headless
}

func (c Config) Validate() error {
	var err error

	switch c.PipelineMode {
	case ModeRemote:
		if c.PipelineBaseURL == "" {
			err = multierr.Append(err, errors.New("PIPELINE_BASE_URL is not set"))
		}
	case ModeDirect:
		if c.OpenAIKey == "" {
			err = multierr.Append(err, errors.New("OPENAI_API_KEY is not set"))
		}
		if c.ElevenLabsKey == "" {
			err = multierr.Append(err, errors.New("ELEVENLABS_API_KEY is not set"))
		}
		switch c.STTProvider {
		case "whisper":
		case "deepgram":
			if c.DeepgramKey == "" {
				err = multierr.Append(err, errors.New("DEEPGRAM_API_KEY is not set"))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("STT_PROVIDER %q: want whisper or deepgram", c.STTProvider))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("PIPELINE_MODE %q: want remote or direct", c.PipelineMode))
	}

	if c.LoadingMode != "signal" && c.LoadingMode != "timed" {
		err = multierr.Append(err, fmt.Errorf("LOADING_MODE %q: want signal or timed", c.LoadingMode))
	}
	if c.RevealInterval <= 0 {
		err = multierr.Append(err, errors.New("REVEAL_INTERVAL must be positive"))
	}

	if c.S3.Enabled() && (c.S3.Endpoint == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		err = multierr.Append(err, errors.New("S3_BUCKET is set but S3_ENDPOINT, S3_ACCESS_KEY or S3_SECRET_KEY is missing"))
	}
	if c.Telegram.Token != "" && c.Telegram.AdminChatID == 0 {
		err = multierr.Append(err, errors.New("TELEGRAM_ADMIN_CHAT_ID is not set"))
	}
	return err
}

type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) intVal(key string, def int) int {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) int64Val(key string, def int64) int64 {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolVal(key string, def bool) bool {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// dur accepts Go durations ("56ms") or bare milliseconds ("56").
func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
