package domain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type eventKind int

const (
	evToggle eventKind = iota
	evCancel
	evStageDone
	evPlayback
)

type turnEvent struct {
	kind   eventKind
	turnID uint64
	stage  ports.Stage
	text   string
	handle *ports.AudioHandle
	play   ports.PlaybackEvent
	err    error
}

type recorderEntry struct {
	recorder   ports.TurnRecorder
	wantsAudio bool
}

type ControllerOption func(*TurnController)

// WithRecorder registers a sink for finished turns. With withAudio the
// record carries the recording and reply bytes.
func WithRecorder(r ports.TurnRecorder, withAudio bool) ControllerOption {
	return func(c *TurnController) {
		c.recorders = append(c.recorders, recorderEntry{recorder: r, wantsAudio: withAudio})
	}
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *TurnController) { c.now = now }
}

// TurnController ведёт один ход за раз: запись → распознавание → ответ →
// синтез → воспроизведение. Все переходы выполняются в одном цикле Run;
// шаги конвейера работают в горутинах и возвращают результат событием,
// помеченным id хода.
type TurnController struct {
	capture  ports.AudioCapture
	pipeline ports.SpeechPipeline
	playback ports.AudioPlayback
	log      *zap.SugaredLogger
	bus      *SignalBus
	now      func() time.Time

	recorders []recorderEntry

	events chan turnEvent
	done   chan struct{}

	// принадлежит циклу
	seq        uint64
	active     *Turn
	turnCtx    context.Context
	cancelTurn context.CancelFunc
	sub        ports.PlaybackSubscription

	mu       sync.RWMutex
	snapshot TurnState
	snapID   uint64
}

func NewTurnController(
	capture ports.AudioCapture,
	pipeline ports.SpeechPipeline,
	playback ports.AudioPlayback,
	log *zap.SugaredLogger,
	opts ...ControllerOption,
) *TurnController {
	c := &TurnController{
		capture:  capture,
		pipeline: pipeline,
		playback: playback,
		log:      log,
		bus:      NewSignalBus(128),
		now:      time.Now,
		events:   make(chan turnEvent, 32),
		done:     make(chan struct{}),
		snapshot: StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns the ordered signal stream. The channel closes when Run exits.
func (c *TurnController) Subscribe() (<-chan PipelineSignal, func()) {
	return c.bus.Subscribe()
}

// Toggle is the single user control: start from Idle, stop recording while
// Capturing, cancel in any later state.
func (c *TurnController) Toggle() {
	c.post(turnEvent{kind: evToggle})
}

// Cancel interrupts the active turn from any non-Idle state.
func (c *TurnController) Cancel() {
	c.post(turnEvent{kind: evCancel})
}

func (c *TurnController) CurrentState() TurnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *TurnController) CurrentTurnID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapID
}

// Done is closed once Run has returned.
func (c *TurnController) Done() <-chan struct{} {
	return c.done
}

// Run is the controller event loop. It returns when ctx is cancelled,
// cancelling any active turn first.
func (c *TurnController) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.bus.Close()

	c.log.Infow("[turn] controller started")
	for {
		select {
		case <-ctx.Done():
			if c.active != nil {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				c.cancelActive(shutdownCtx)
				cancel()
			}
			c.log.Infow("[turn] controller stopped")
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *TurnController) post(ev turnEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *TurnController) handle(ctx context.Context, ev turnEvent) {
	switch ev.kind {
	case evToggle:
		switch c.state() {
		case StateIdle:
			c.startTurn(ctx)
		case StateCapturing:
			c.stopCapture(ctx)
		default:
			c.cancelActive(ctx)
		}
	case evCancel:
		if c.active != nil {
			c.cancelActive(ctx)
		}
	case evStageDone:
		c.onStageDone(ctx, ev)
	case evPlayback:
		c.onPlayback(ctx, ev)
	}
}

func (c *TurnController) state() TurnState {
	if c.active == nil {
		return StateIdle
	}
	return c.active.State
}

func (c *TurnController) startTurn(ctx context.Context) {
	c.seq++
	t := &Turn{
		ID:        c.seq,
		Key:       uuid.NewString(),
		StartedAt: c.now(),
	}
	c.active = t
	c.turnCtx, c.cancelTurn = context.WithCancel(ctx)
	c.transition(t, StateCapturing)

	c.log.Infow("[turn] start", "turn", t.ID, "key", t.Key)
	if err := c.capture.Start(c.turnCtx); err != nil {
		c.fail(ctx, ports.StageCapture, err)
		return
	}
	c.emit(ctx, PipelineSignal{Kind: SignalListeningStarted})
}

func (c *TurnController) stopCapture(ctx context.Context) {
	t := c.active
	h, err := c.capture.Stop(c.turnCtx)
	if err != nil {
		c.fail(ctx, ports.StageCapture, err)
		return
	}
	t.AudioIn = h
	c.emit(ctx, PipelineSignal{Kind: SignalListeningStopped})
	c.transition(t, StateTranscribing)

	c.launch(t, ports.StageTranscribe, func(ctx context.Context) (string, *ports.AudioHandle, error) {
		text, err := c.pipeline.Transcribe(ctx, h)
		return text, nil, err
	})
}

// launch runs one network stage off the loop and posts its result back.
func (c *TurnController) launch(t *Turn, stage ports.Stage, call func(context.Context) (string, *ports.AudioHandle, error)) {
	ctx, id := c.turnCtx, t.ID
	go func() {
		text, h, err := call(ctx)
		ev := turnEvent{kind: evStageDone, turnID: id, stage: stage, text: text, handle: h, err: err}
		if !c.post(ev) {
			_ = h.Release()
		}
	}()
}

func (c *TurnController) onStageDone(ctx context.Context, ev turnEvent) {
	t := c.active
	if t == nil || t.ID != ev.turnID || t.State != stageState(ev.stage) {
		c.log.Debugw("[turn] discarding stale result", "turn", ev.turnID, "stage", ev.stage)
		if err := ev.handle.Release(); err != nil {
			c.log.Warnw("[turn] release stale handle", "turn", ev.turnID, "err", err)
		}
		return
	}
	if ev.err != nil {
		// хэндл уже наш, даже если шаг вернул ошибку
		if err := ev.handle.Release(); err != nil {
			c.log.Warnw("[turn] release handle of failed stage", "turn", ev.turnID, "err", err)
		}
		c.fail(ctx, ev.stage, ev.err)
		return
	}

	switch ev.stage {
	case ports.StageTranscribe:
		if strings.TrimSpace(ev.text) == "" {
			c.fail(ctx, ev.stage, ports.NewPipelineError(ev.stage, ports.ReasonEmptyResult, nil))
			return
		}
		t.Transcript = ev.text
		c.emit(ctx, PipelineSignal{Kind: SignalTranscribed, Text: ev.text})
		c.transition(t, StateGenerating)

		text := ev.text
		c.launch(t, ports.StageGenerate, func(ctx context.Context) (string, *ports.AudioHandle, error) {
			reply, err := c.pipeline.GenerateReply(ctx, text)
			return reply, nil, err
		})

	case ports.StageGenerate:
		if strings.TrimSpace(ev.text) == "" {
			c.fail(ctx, ev.stage, ports.NewPipelineError(ev.stage, ports.ReasonEmptyResult, nil))
			return
		}
		t.ReplyText = ev.text
		c.emit(ctx, PipelineSignal{Kind: SignalReplied, Text: ev.text})
		c.transition(t, StateSynthesizing)

		reply := ev.text
		c.launch(t, ports.StageSynthesize, func(ctx context.Context) (string, *ports.AudioHandle, error) {
			h, err := c.pipeline.Synthesize(ctx, reply)
			return "", h, err
		})

	case ports.StageSynthesize:
		if ev.handle == nil {
			c.fail(ctx, ev.stage, ports.NewPipelineError(ev.stage, ports.ReasonEmptyResult, nil))
			return
		}
		t.AudioOut = ev.handle
		c.emit(ctx, PipelineSignal{Kind: SignalAudioReady})
		c.transition(t, StatePlaying)

		sub, err := c.playback.Play(c.turnCtx, ev.handle)
		if err != nil {
			c.fail(ctx, ports.StagePlay, err)
			return
		}
		c.sub = sub
		go c.forwardPlayback(t.ID, sub)
	}
}

func (c *TurnController) forwardPlayback(turnID uint64, sub ports.PlaybackSubscription) {
	for pe := range sub.Events() {
		if !c.post(turnEvent{kind: evPlayback, turnID: turnID, play: pe}) {
			return
		}
	}
}

func (c *TurnController) onPlayback(ctx context.Context, ev turnEvent) {
	t := c.active
	if t == nil || t.ID != ev.turnID || t.State != StatePlaying {
		return
	}

	switch ev.play.Kind {
	case ports.PlaybackStarted:
		if !t.playbackStarted {
			t.playbackStarted = true
			c.emit(ctx, PipelineSignal{Kind: SignalPlaybackStarted})
		}
	case ports.PlaybackEnded:
		if !t.playbackStarted {
			t.playbackStarted = true
			c.emit(ctx, PipelineSignal{Kind: SignalPlaybackStarted})
		}
		c.emit(ctx, PipelineSignal{Kind: SignalPlaybackEnded})
		c.finish(ports.OutcomeCompleted, "", "")
	case ports.PlaybackFailed:
		err := ev.play.Err
		var pe *ports.PlaybackError
		if !errors.As(err, &pe) {
			err = &ports.PlaybackError{Err: err}
		}
		c.fail(ctx, ports.StagePlay, err)
	}
}

func (c *TurnController) fail(ctx context.Context, stage ports.Stage, err error) {
	t := c.active
	reason := ports.ReasonOf(err)
	c.log.Warnw("[turn] stage failed", "turn", t.ID, "stage", stage, "reason", reason, "err", err)

	c.transition(t, StateFailed)
	c.emit(ctx, PipelineSignal{Kind: SignalFailed, Stage: stage, Reason: reason})
	c.finish(ports.OutcomeFailed, stage, reason)
}

func (c *TurnController) cancelActive(ctx context.Context) {
	t := c.active
	prev := t.State
	t.Cancelled = true
	c.transition(t, StateCancelling)
	c.cancelTurn()

	switch prev {
	case StateCapturing:
		// запись выбрасываем
		h, err := c.capture.Stop(ctx)
		if err != nil {
			c.log.Debugw("[turn] capture stop on cancel", "turn", t.ID, "err", err)
		}
		t.AudioIn = h
	case StatePlaying:
		if err := c.playback.Stop(); err != nil {
			c.log.Warnw("[turn] playback stop on cancel", "turn", t.ID, "err", err)
		}
	}

	c.log.Infow("[turn] cancelled", "turn", t.ID, "state", prev)
	c.emit(ctx, PipelineSignal{Kind: SignalCancelled})
	c.finish(ports.OutcomeCancelled, "", "")
}

// finish closes the active turn: records it, releases its handles, returns to Idle.
func (c *TurnController) finish(outcome ports.TurnOutcome, stage ports.Stage, reason string) {
	t := c.active
	t.EndedAt = c.now()
	c.cancelTurn()
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.log.Debugw("[turn] close playback subscription", "turn", t.ID, "err", err)
		}
		c.sub = nil
	}

	c.record(t, outcome, stage, reason)
	if err := t.release(); err != nil {
		c.log.Warnw("[turn] release handles", "turn", t.ID, "err", err)
	}

	c.log.Infow("[turn] done", "turn", t.ID, "outcome", outcome, "took", t.EndedAt.Sub(t.StartedAt).String())
	c.active, c.turnCtx, c.cancelTurn = nil, nil, nil
	c.mu.Lock()
	c.snapshot, c.snapID = StateIdle, 0
	c.mu.Unlock()
}

func (c *TurnController) record(t *Turn, outcome ports.TurnOutcome, stage ports.Stage, reason string) {
	if len(c.recorders) == 0 {
		return
	}
	base := t.record(outcome, stage, reason)

	var withAudio *ports.TurnRecord
	for _, r := range c.recorders {
		if !r.wantsAudio {
			r.recorder.RecordTurn(base)
			continue
		}
		if withAudio == nil {
			rec := base
			if b, err := t.AudioIn.Bytes(); err == nil {
				rec.AudioIn, rec.AudioInType, rec.AudioInExt = b, t.AudioIn.MimeType, t.AudioIn.Ext()
			}
			if b, err := t.AudioOut.Bytes(); err == nil {
				rec.AudioOut, rec.AudioOutType = b, t.AudioOut.MimeType
			}
			withAudio = &rec
		}
		r.recorder.RecordTurn(*withAudio)
	}
}

func (c *TurnController) transition(t *Turn, to TurnState) {
	c.log.Debugw("[turn] transition", "turn", t.ID, "from", t.State, "to", to)
	t.State = to
	c.mu.Lock()
	c.snapshot, c.snapID = to, t.ID
	c.mu.Unlock()
}

func (c *TurnController) emit(ctx context.Context, sig PipelineSignal) {
	if c.active != nil {
		sig.TurnID = c.active.ID
	}
	sig.At = c.now()
	c.bus.Publish(ctx, sig)
}
