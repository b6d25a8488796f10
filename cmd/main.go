package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voice_turn/internal/ai"
	"github.com/Vovarama1992/voice_turn/internal/audio"
	"github.com/Vovarama1992/voice_turn/internal/config"
	"github.com/Vovarama1992/voice_turn/internal/delivery"
	"github.com/Vovarama1992/voice_turn/internal/domain"
	"github.com/Vovarama1992/voice_turn/internal/error_notificator"
	"github.com/Vovarama1992/voice_turn/internal/infra"
	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/Vovarama1992/voice_turn/internal/presentation"
	"github.com/Vovarama1992/voice_turn/internal/speech"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {

	// =========================================================================
	// FLAGS / ENV
	// =========================================================================

	var fl config.Flags
	if _, err := flags.NewParser(&fl, flags.Default).Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := config.LoadEnvFile(fl.EnvFile); err != nil {
		log.Fatalf("failed to load %s: %v", fl.EnvFile, err)
	}

	cfg, err := config.Load()
	cfg.Apply(fl)
	if err = multierr.Append(err, cfg.Validate()); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	baseLogger, _ := zap.NewProduction()
	defer baseLogger.Sync()
	sugar := baseLogger.Sugar()
	zl := logger.NewZapLogger(sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// OPTIONAL SINKS (JOURNAL / ARCHIVE / NOTIFIER)
	// =========================================================================

	var opts []domain.ControllerOption
	var journal *domain.JournalService
	var db *sql.DB

	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			log.Fatalf("db ping failed: %v", err)
		}
		if err := infra.EnsureSchema(pingCtx, db); err != nil {
			log.Fatalf("db schema failed: %v", err)
		}
		cancel()

		journal = domain.NewJournalService(infra.NewTurnRepo(db), sugar)
		opts = append(opts, domain.WithRecorder(journal, false))
	}

	if cfg.S3.Enabled() {
		s3Client, err := infra.NewS3Client(ctx, infra.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Insecure:  cfg.S3.Insecure,
		})
		if err != nil {
			log.Fatalf("failed to init s3: %v", err)
		}
		opts = append(opts, domain.WithRecorder(domain.NewArchiveService(s3Client, sugar), true))
	}

	var notifier *error_notificator.Service
	if cfg.Telegram.Enabled() {
		errInfra, err := error_notificator.NewBotInfra(cfg.Telegram.Token, cfg.Telegram.AdminChatID, sugar)
		if err != nil {
			// уведомления не критичны
			sugar.Warnw("[main] telegram notifier disabled", "err", err)
		} else {
			notifier = error_notificator.NewService(errInfra, sugar)
		}
	}

	// =========================================================================
	// PIPELINE / AUDIO
	// =========================================================================

	pipeline := buildPipeline(cfg, sugar)

	capture := audio.NewFFmpegCapture(cfg.FFmpegPath, cfg.AudioDir, cfg.Capture, sugar)
	playback := audio.NewFFplayPlayback(cfg.FFplayPath, cfg.FFprobe, cfg.AudioDir, sugar)

	// =========================================================================
	// CONTROLLER / PRESENTATION
	// =========================================================================

	ctrl := domain.NewTurnController(capture, pipeline, playback, sugar, opts...)
	hub := delivery.NewHub(ctrl, zl)

	renderers := []presentation.Renderer{hub}
	if !cfg.Headless {
		renderers = append(renderers, presentation.NewTerminalRenderer(os.Stdout))
	}
	view := presentation.NewAdapter(presentation.Config{
		LoadingMode:       presentation.LoadingMode(cfg.LoadingMode),
		LoadingMinDisplay: cfg.LoadingMinDisplay,
		LoadingTimeout:    cfg.LoadingTimeout,
		RevealInterval:    cfg.RevealInterval,
	}, sugar, renderers...)

	// подписки до старта цикла, чтобы не потерять первые сигналы
	viewSignals, _ := ctrl.Subscribe()
	hubSignals, _ := ctrl.Subscribe()
	var failSignals <-chan domain.PipelineSignal
	if notifier != nil {
		failSignals, _ = ctrl.Subscribe()
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("[main] component stopped", "component", name, "err", err)
			}
		}()
	}

	run("controller", func() error { return ctrl.Run(ctx) })
	run("presentation", func() error { return view.Run(ctx, viewSignals) })
	run("ws-hub", func() error { return hub.RunSignals(ctx, hubSignals) })
	if notifier != nil {
		run("notifier", func() error { return notifier.Watch(ctx, failSignals) })
	}

	// =========================================================================
	// HTTP ROUTER
	// =========================================================================

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	var journalReader delivery.JournalReader
	if journal != nil {
		journalReader = journal
	}
	handler := delivery.NewHandler(ctrl, journalReader, view, zl)
	delivery.RegisterRoutes(r, handler, hub, cfg.ToggleRateLimit)

	// =========================================================================
	// CONSOLE
	// =========================================================================

	if !cfg.Headless {
		console := delivery.NewConsole(ctrl, os.Stdin, zl)
		go func() {
			if err := console.Run(ctx); errors.Is(err, delivery.ErrQuit) {
				stop()
			}
		}()
	}

	// =========================================================================
	// START SERVER
	// =========================================================================

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "listening at " + addr + ", pipeline " + cfg.PipelineMode,
		Service: "voice_turn",
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("[main] server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	// =========================================================================
	// SHUTDOWN
	// =========================================================================

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	hub.Close()
	<-ctrl.Done()
	wg.Wait()
	if db != nil {
		err = multierr.Append(err, db.Close())
	}
	if err != nil {
		sugar.Errorw("[main] shutdown", "err", err)
	}
	sugar.Infow("[main] bye")
}

func buildPipeline(cfg config.Config, log *zap.SugaredLogger) ports.SpeechPipeline {
	if cfg.PipelineMode == config.ModeRemote {
		return speech.NewRemoteClient(cfg.PipelineBaseURL, nil, log)
	}

	openAI := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:       cfg.OpenAIKey,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.SystemPrompt,
	})

	var stt speech.STTClient = openAI
	if cfg.STTProvider == "deepgram" {
		stt = ai.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramLanguage)
	}

	tts := speech.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoice)
	return speech.NewService(stt, openAI, tts, log)
}
