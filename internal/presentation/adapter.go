package presentation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/domain"
	"go.uber.org/zap"
)

// View описывает экран: пульс записи, индикатор загрузки и субтитры.
type View struct {
	TurnID    uint64 `json:"turn_id"`
	Listening bool   `json:"listening"`
	Loading   bool   `json:"loading"`
	Subtitle  string `json:"subtitle"`
	Error     string `json:"error,omitempty"`
}

type Renderer interface {
	Render(v View)
}

type LoadingMode string

const (
	LoadingSignal LoadingMode = "signal"
	LoadingTimed  LoadingMode = "timed"
)

type Config struct {
	LoadingMode       LoadingMode
	LoadingMinDisplay time.Duration
	LoadingTimeout    time.Duration
	RevealInterval    time.Duration
}

func DefaultConfig() Config {
	return Config{
		LoadingMode:       LoadingSignal,
		LoadingMinDisplay: 300 * time.Millisecond,
		LoadingTimeout:    2 * time.Second,
		RevealInterval:    56 * time.Millisecond,
	}
}

// Adapter переводит сигналы хода в состояние экрана. Все изменения
// происходят в горутине Run.
type Adapter struct {
	cfg       Config
	log       *zap.SugaredLogger
	renderers []Renderer

	mu   sync.RWMutex
	view View

	reply     []rune
	revealed  int
	reveal    *time.Ticker
	hide      *time.Timer
	loadingAt time.Time
}

func NewAdapter(cfg Config, log *zap.SugaredLogger, renderers ...Renderer) *Adapter {
	if cfg.RevealInterval <= 0 {
		cfg.RevealInterval = DefaultConfig().RevealInterval
	}
	if cfg.LoadingMode == "" {
		cfg.LoadingMode = LoadingSignal
	}
	if cfg.LoadingMode == LoadingTimed && cfg.LoadingTimeout <= 0 {
		cfg.LoadingTimeout = DefaultConfig().LoadingTimeout
	}
	return &Adapter{cfg: cfg, log: log, renderers: renderers}
}

// View returns the latest snapshot.
func (a *Adapter) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.view
}

func (a *Adapter) Run(ctx context.Context, signals <-chan domain.PipelineSignal) error {
	defer a.stopReveal()
	defer a.stopHide()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			a.handle(sig)

		case <-tickC(a.reveal):
			a.advance()

		case <-timerC(a.hide):
			a.hide = nil
			a.update(func(v *View) { v.Loading = false })
		}
	}
}

func (a *Adapter) handle(sig domain.PipelineSignal) {
	a.log.Debugw("[view] signal", "signal", sig.String(), "turn", sig.TurnID)

	switch sig.Kind {
	case domain.SignalListeningStarted:
		a.stopReveal()
		a.stopHide()
		a.reply, a.revealed = nil, 0
		a.update(func(v *View) {
			*v = View{TurnID: sig.TurnID, Listening: true}
		})

	case domain.SignalListeningStopped:
		a.loadingAt = time.Now()
		if a.cfg.LoadingMode == LoadingTimed {
			a.scheduleHide(a.cfg.LoadingTimeout)
		}
		a.update(func(v *View) {
			v.Listening = false
			v.Loading = true
		})

	case domain.SignalReplied:
		a.stopReveal()
		a.reply, a.revealed = []rune(sig.Text), 0
		a.update(func(v *View) { v.Subtitle = "" })

	case domain.SignalAudioReady:
		if a.cfg.LoadingMode != LoadingSignal {
			return
		}
		if left := a.cfg.LoadingMinDisplay - time.Since(a.loadingAt); left > 0 {
			a.scheduleHide(left)
			return
		}
		a.stopHide()
		a.update(func(v *View) { v.Loading = false })

	case domain.SignalPlaybackStarted:
		if len(a.reply) > 0 && a.reveal == nil {
			a.reveal = time.NewTicker(a.cfg.RevealInterval)
		}

	case domain.SignalPlaybackEnded:
		a.stopReveal()
		a.revealed = len(a.reply)
		full := string(a.reply)
		a.update(func(v *View) { v.Subtitle = full })

	case domain.SignalCancelled, domain.SignalFailed:
		a.stopReveal()
		a.stopHide()
		a.reply, a.revealed = nil, 0
		msg := ""
		if sig.Kind == domain.SignalFailed {
			msg = fmt.Sprintf("%s: %s", sig.Stage, sig.Reason)
		}
		a.update(func(v *View) {
			*v = View{TurnID: sig.TurnID, Error: msg}
		})
	}
}

func (a *Adapter) advance() {
	if a.revealed < len(a.reply) {
		a.revealed++
	}
	if a.revealed >= len(a.reply) {
		a.stopReveal()
	}
	text := string(a.reply[:a.revealed])
	a.update(func(v *View) { v.Subtitle = text })
}

func (a *Adapter) update(fn func(v *View)) {
	a.mu.Lock()
	prev := a.view
	fn(&a.view)
	next := a.view
	a.mu.Unlock()

	if next == prev {
		return
	}
	for _, r := range a.renderers {
		r.Render(next)
	}
}

func (a *Adapter) scheduleHide(d time.Duration) {
	a.stopHide()
	a.hide = time.NewTimer(d)
}

func (a *Adapter) stopHide() {
	if a.hide != nil {
		a.hide.Stop()
		a.hide = nil
	}
}

func (a *Adapter) stopReveal() {
	if a.reveal != nil {
		a.reveal.Stop()
		a.reveal = nil
	}
}

// nil channel blocks forever in select
func tickC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
