package domain

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCapture struct {
	startErr error
	stopErr  error
	started  atomic.Int32
	stopped  atomic.Int32
	released atomic.Int32
}

func (f *fakeCapture) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Add(1)
	return nil
}

func (f *fakeCapture) Stop(context.Context) (*ports.AudioHandle, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	f.stopped.Add(1)
	return ports.NewAudioHandle("rec1", []byte("pcm"), "audio/wav", func() error {
		f.released.Add(1)
		return nil
	}), nil
}

type fakePipeline struct {
	transcribe func(ctx context.Context, h *ports.AudioHandle) (string, error)
	generate   func(ctx context.Context, text string) (string, error)
	synthesize func(ctx context.Context, text string) (*ports.AudioHandle, error)

	generateCalls   atomic.Int32
	synthesizeCalls atomic.Int32
}

func (f *fakePipeline) Transcribe(ctx context.Context, h *ports.AudioHandle) (string, error) {
	return f.transcribe(ctx, h)
}

func (f *fakePipeline) GenerateReply(ctx context.Context, text string) (string, error) {
	f.generateCalls.Add(1)
	return f.generate(ctx, text)
}

func (f *fakePipeline) Synthesize(ctx context.Context, text string) (*ports.AudioHandle, error) {
	f.synthesizeCalls.Add(1)
	return f.synthesize(ctx, text)
}

type fakeSub struct {
	events chan ports.PlaybackEvent

	mu     sync.Mutex
	closed atomic.Bool
}

func (s *fakeSub) Events() <-chan ports.PlaybackEvent { return s.events }

// send, как ffplaySub.send: после Close событие молча отбрасывается.
func (s *fakeSub) send(ev ports.PlaybackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	close(s.events)
	return nil
}

type fakePlayback struct {
	playErr error
	plays   chan *fakeSub
	stops   atomic.Int32
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{plays: make(chan *fakeSub, 4)}
}

func (f *fakePlayback) Play(context.Context, *ports.AudioHandle) (ports.PlaybackSubscription, error) {
	if f.playErr != nil {
		return nil, f.playErr
	}
	s := &fakeSub{events: make(chan ports.PlaybackEvent, 4)}
	f.plays <- s
	return s, nil
}

func (f *fakePlayback) Stop() error {
	f.stops.Add(1)
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []ports.TurnRecord
}

func (m *memRecorder) RecordTurn(rec ports.TurnRecord) {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
}

func (m *memRecorder) all() []ports.TurnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.TurnRecord(nil), m.recs...)
}

func happyPipeline(outReleased *atomic.Int32) *fakePipeline {
	return &fakePipeline{
		transcribe: func(context.Context, *ports.AudioHandle) (string, error) { return "hello", nil },
		generate:   func(context.Context, string) (string, error) { return "hi there", nil },
		synthesize: func(context.Context, string) (*ports.AudioHandle, error) {
			return ports.NewAudioHandle("", []byte("mp3-bytes"), "audio/mpeg", func() error {
				outReleased.Add(1)
				return nil
			}), nil
		},
	}
}

type harness struct {
	ctrl    *TurnController
	signals <-chan PipelineSignal
	cancel  context.CancelFunc
}

func startController(t *testing.T, capture ports.AudioCapture, pipeline ports.SpeechPipeline, playback ports.AudioPlayback, opts ...ControllerOption) *harness {
	t.Helper()
	ctrl := NewTurnController(capture, pipeline, playback, zaptest.NewLogger(t).Sugar(), opts...)
	signals, _ := ctrl.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})
	return &harness{ctrl: ctrl, signals: signals, cancel: cancel}
}

func (h *harness) next(t *testing.T) PipelineSignal {
	t.Helper()
	select {
	case sig, ok := <-h.signals:
		require.True(t, ok, "signal stream closed")
		return sig
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
	return PipelineSignal{}
}

func (h *harness) expectKinds(t *testing.T, kinds ...SignalKind) []PipelineSignal {
	t.Helper()
	got := make([]PipelineSignal, 0, len(kinds))
	for _, want := range kinds {
		sig := h.next(t)
		require.Equal(t, want, sig.Kind, "got %s", sig)
		got = append(got, sig)
	}
	return got
}

func (h *harness) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case sig := <-h.signals:
		t.Fatalf("unexpected signal %s", sig)
	case <-time.After(d):
	}
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.CurrentState() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestTurnController_HappyPathSignalOrder(t *testing.T) {
	capture := &fakeCapture{}
	var outReleased atomic.Int32
	pipeline := happyPipeline(&outReleased)
	playback := newFakePlayback()
	rec := &memRecorder{}
	h := startController(t, capture, pipeline, playback, WithRecorder(rec, false))

	assert.Equal(t, StateIdle, h.ctrl.CurrentState())

	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted)
	assert.Equal(t, StateCapturing, h.ctrl.CurrentState())
	assert.Equal(t, uint64(1), h.ctrl.CurrentTurnID())

	h.ctrl.Toggle()
	sigs := h.expectKinds(t, SignalListeningStopped, SignalTranscribed, SignalReplied, SignalAudioReady)
	assert.Equal(t, "hello", sigs[1].Text)
	assert.Equal(t, "hi there", sigs[2].Text)

	sub := <-playback.plays
	sub.send(ports.PlaybackEvent{Kind: ports.PlaybackStarted})
	sub.send(ports.PlaybackEvent{Kind: ports.PlaybackEnded})
	h.expectKinds(t, SignalPlaybackStarted, SignalPlaybackEnded)

	h.waitIdle(t)
	assert.Equal(t, uint64(0), h.ctrl.CurrentTurnID())
	assert.Equal(t, int32(1), capture.released.Load())
	assert.Equal(t, int32(1), outReleased.Load())
	assert.True(t, sub.closed.Load())

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := rec.all()[0]
	assert.Equal(t, ports.OutcomeCompleted, got.Outcome)
	assert.Equal(t, "hello", got.Transcript)
	assert.Equal(t, "hi there", got.ReplyText)
	assert.Nil(t, got.AudioIn)
}

func TestTurnController_EmptyTranscriptFails(t *testing.T) {
	pipeline := happyPipeline(new(atomic.Int32))
	pipeline.transcribe = func(context.Context, *ports.AudioHandle) (string, error) { return "", nil }
	h := startController(t, &fakeCapture{}, pipeline, newFakePlayback())

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	sigs := h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalFailed)
	assert.Equal(t, ports.StageTranscribe, sigs[2].Stage)
	assert.Equal(t, ports.ReasonEmptyResult, sigs[2].Reason)

	h.waitIdle(t)
	h.expectQuiet(t, 50*time.Millisecond)
	assert.Zero(t, pipeline.generateCalls.Load())
}

func TestTurnController_EmptyReplyFails(t *testing.T) {
	pipeline := happyPipeline(new(atomic.Int32))
	pipeline.generate = func(context.Context, string) (string, error) { return "", nil }
	h := startController(t, &fakeCapture{}, pipeline, newFakePlayback())

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	sigs := h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalFailed)
	assert.Equal(t, ports.StageGenerate, sigs[3].Stage)
	assert.Equal(t, ports.ReasonEmptyResult, sigs[3].Reason)
	h.waitIdle(t)
	assert.Zero(t, pipeline.synthesizeCalls.Load())
}

func TestTurnController_StageErrorsBecomeFailedSignals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *fakePipeline)
		kinds  []SignalKind
		stage  ports.Stage
		reason string
	}{
		{
			name: "transcribe transport",
			mutate: func(p *fakePipeline) {
				p.transcribe = func(context.Context, *ports.AudioHandle) (string, error) {
					return "", ports.NewPipelineError(ports.StageTranscribe, "transport", errors.New("dial tcp: refused"))
				}
			},
			kinds:  []SignalKind{SignalListeningStopped, SignalFailed},
			stage:  ports.StageTranscribe,
			reason: "transport",
		},
		{
			name: "generate status",
			mutate: func(p *fakePipeline) {
				p.generate = func(context.Context, string) (string, error) {
					return "", ports.NewPipelineError(ports.StageGenerate, "status 500", nil)
				}
			},
			kinds:  []SignalKind{SignalListeningStopped, SignalTranscribed, SignalFailed},
			stage:  ports.StageGenerate,
			reason: "status 500",
		},
		{
			name: "synthesize plain error",
			mutate: func(p *fakePipeline) {
				p.synthesize = func(context.Context, string) (*ports.AudioHandle, error) {
					return nil, errors.New("boom")
				}
			},
			kinds:  []SignalKind{SignalListeningStopped, SignalTranscribed, SignalReplied, SignalFailed},
			stage:  ports.StageSynthesize,
			reason: "boom",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pipeline := happyPipeline(new(atomic.Int32))
			tc.mutate(pipeline)
			h := startController(t, &fakeCapture{}, pipeline, newFakePlayback())

			h.ctrl.Toggle()
			h.expectKinds(t, SignalListeningStarted)
			h.ctrl.Toggle()
			sigs := h.expectKinds(t, tc.kinds...)
			last := sigs[len(sigs)-1]
			assert.Equal(t, tc.stage, last.Stage)
			assert.Equal(t, tc.reason, last.Reason)
			h.waitIdle(t)
		})
	}
}

func TestTurnController_CaptureStartFailure(t *testing.T) {
	capture := &fakeCapture{startErr: &ports.CaptureError{Op: "start", Err: ports.ErrNoPermission}}
	rec := &memRecorder{}
	h := startController(t, capture, happyPipeline(new(atomic.Int32)), newFakePlayback(), WithRecorder(rec, true))

	h.ctrl.Toggle()
	sig := h.expectKinds(t, SignalFailed)[0]
	assert.Equal(t, ports.StageCapture, sig.Stage)
	assert.Equal(t, ports.ErrNoPermission.Error(), sig.Reason)
	h.waitIdle(t)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ports.OutcomeFailed, rec.all()[0].Outcome)
}

func TestTurnController_CancelDuringSynthesizeDiscardsLateAudio(t *testing.T) {
	var outReleased atomic.Int32
	pipeline := happyPipeline(&outReleased)
	gate := make(chan struct{})
	entered := make(chan struct{})
	pipeline.synthesize = func(context.Context, string) (*ports.AudioHandle, error) {
		// транспорт без отмены: ответ приходит несмотря на отмену
		close(entered)
		<-gate
		return ports.NewAudioHandle("", []byte("late"), "audio/mpeg", func() error {
			outReleased.Add(1)
			return nil
		}), nil
	}
	playback := newFakePlayback()
	h := startController(t, &fakeCapture{}, pipeline, playback)

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalReplied)
	<-entered
	assert.Equal(t, StateSynthesizing, h.ctrl.CurrentState())

	h.ctrl.Toggle()
	sig := h.expectKinds(t, SignalCancelled)[0]
	assert.Equal(t, uint64(1), sig.TurnID)
	h.waitIdle(t)

	close(gate)
	h.expectQuiet(t, 100*time.Millisecond)
	assert.Empty(t, playback.plays)
	require.Eventually(t, func() bool { return outReleased.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, h.ctrl.CurrentState())
}

func TestTurnController_CancelDuringPlaybackStopsPlayer(t *testing.T) {
	playback := newFakePlayback()
	h := startController(t, &fakeCapture{}, happyPipeline(new(atomic.Int32)), playback)

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalReplied, SignalAudioReady)
	sub := <-playback.plays
	sub.send(ports.PlaybackEvent{Kind: ports.PlaybackStarted})
	h.expectKinds(t, SignalPlaybackStarted)

	h.ctrl.Toggle()
	h.expectKinds(t, SignalCancelled)
	h.waitIdle(t)
	assert.Equal(t, int32(1), playback.stops.Load())
	assert.True(t, sub.closed.Load())
	h.expectQuiet(t, 50*time.Millisecond)
}

func TestTurnController_CancelWhileCapturingDiscardsRecording(t *testing.T) {
	capture := &fakeCapture{}
	pipeline := happyPipeline(new(atomic.Int32))
	called := atomic.Bool{}
	pipeline.transcribe = func(context.Context, *ports.AudioHandle) (string, error) {
		called.Store(true)
		return "x", nil
	}
	h := startController(t, capture, pipeline, newFakePlayback())

	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted)
	h.ctrl.Cancel()
	h.expectKinds(t, SignalCancelled)
	h.waitIdle(t)

	assert.Equal(t, int32(1), capture.stopped.Load())
	assert.Equal(t, int32(1), capture.released.Load())
	assert.False(t, called.Load())
}

func TestTurnController_CancelWhenIdleIsNoop(t *testing.T) {
	h := startController(t, &fakeCapture{}, happyPipeline(new(atomic.Int32)), newFakePlayback())
	h.ctrl.Cancel()
	h.expectQuiet(t, 50*time.Millisecond)
	assert.Equal(t, StateIdle, h.ctrl.CurrentState())
}

func TestTurnController_RandomTogglesNeverOverlapTurns(t *testing.T) {
	pipeline := happyPipeline(new(atomic.Int32))
	pipeline.generate = func(ctx context.Context, _ string) (string, error) {
		select {
		case <-time.After(time.Duration(rand.Intn(3)) * time.Millisecond):
			return "ok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	playback := newFakePlayback()
	h := startController(t, &fakeCapture{}, pipeline, playback)

	// плеер сразу завершает каждое воспроизведение
	go func() {
		for sub := range playback.plays {
			sub.send(ports.PlaybackEvent{Kind: ports.PlaybackStarted})
			sub.send(ports.PlaybackEvent{Kind: ports.PlaybackEnded})
		}
	}()
	t.Cleanup(func() { close(playback.plays) })

	done := make(chan struct{})
	var violations []string
	go func() {
		defer close(done)
		var open uint64
		for sig := range h.signals {
			switch {
			case sig.Kind == SignalListeningStarted || (open == 0 && sig.Kind == SignalFailed):
				if open != 0 {
					violations = append(violations, "turn started while another is active")
				}
				open = sig.TurnID
				if sig.Kind == SignalFailed {
					open = 0
				}
			case sig.TurnID != open:
				violations = append(violations, "signal for inactive turn: "+sig.String())
			}
			if sig.Terminal() {
				open = 0
			}
		}
	}()

	for i := 0; i < 200; i++ {
		h.ctrl.Toggle()
		time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
	}
	h.cancel()
	<-h.ctrl.Done()
	<-done
	assert.Empty(t, violations)
}

func TestTurnController_RecorderWithAudio(t *testing.T) {
	playback := newFakePlayback()
	rec := &memRecorder{}
	h := startController(t, &fakeCapture{}, happyPipeline(new(atomic.Int32)), playback, WithRecorder(rec, true))

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalReplied, SignalAudioReady)
	sub := <-playback.plays
	sub.send(ports.PlaybackEvent{Kind: ports.PlaybackEnded})
	h.expectKinds(t, SignalPlaybackStarted, SignalPlaybackEnded)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := rec.all()[0]
	assert.Equal(t, []byte("pcm"), got.AudioIn)
	assert.Equal(t, []byte("mp3-bytes"), got.AudioOut)
	assert.Equal(t, "audio/mpeg", got.AudioOutType)
	assert.Equal(t, "wav", got.AudioInExt)
}

func TestTurnController_PlaybackErrorFails(t *testing.T) {
	playback := newFakePlayback()
	h := startController(t, &fakeCapture{}, happyPipeline(new(atomic.Int32)), playback)

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalReplied, SignalAudioReady)
	sub := <-playback.plays
	sub.send(ports.PlaybackEvent{Kind: ports.PlaybackFailed, Err: errors.New("decode")})
	sig := h.expectKinds(t, SignalFailed)[0]
	assert.Equal(t, ports.StagePlay, sig.Stage)
	assert.Equal(t, "decode", sig.Reason)
	h.waitIdle(t)
}

func TestTurnController_StageErrorReleasesReturnedHandle(t *testing.T) {
	var outReleased atomic.Int32
	pipeline := happyPipeline(&outReleased)
	pipeline.synthesize = func(context.Context, string) (*ports.AudioHandle, error) {
		h := ports.NewAudioHandle("", []byte("partial"), "audio/mpeg", func() error {
			outReleased.Add(1)
			return nil
		})
		return h, errors.New("boom")
	}
	playback := newFakePlayback()
	h := startController(t, &fakeCapture{}, pipeline, playback)

	h.ctrl.Toggle()
	h.ctrl.Toggle()
	sigs := h.expectKinds(t, SignalListeningStarted, SignalListeningStopped, SignalTranscribed, SignalReplied, SignalFailed)
	assert.Equal(t, ports.StageSynthesize, sigs[4].Stage)
	h.waitIdle(t)

	assert.Equal(t, int32(1), outReleased.Load())
	assert.Empty(t, playback.plays)
}
