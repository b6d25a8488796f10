package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"go.uber.org/zap"
)

// FFplayPlayback проигрывает ответ через ffplay. Новый Play останавливает предыдущий.
type FFplayPlayback struct {
	bin   string
	probe string
	dir   string
	log   *zap.SugaredLogger

	mu  sync.Mutex
	cur *ffplaySub
}

func NewFFplayPlayback(bin, probe, dir string, log *zap.SugaredLogger) *FFplayPlayback {
	if bin == "" {
		bin = "ffplay"
	}
	if probe == "" {
		probe = "ffprobe"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &FFplayPlayback{bin: bin, probe: probe, dir: dir, log: log}
}

func (p *FFplayPlayback) Play(ctx context.Context, h *ports.AudioHandle) (ports.PlaybackSubscription, error) {
	path, cleanup, err := p.materialize(h)
	if err != nil {
		return nil, &ports.PlaybackError{Err: err}
	}

	if d, err := ProbeDuration(ctx, p.probe, path); err == nil {
		p.log.Infow("[playback] start", "path", path, "duration", d.String())
	} else {
		p.log.Debugw("[playback] ffprobe failed", "err", err)
	}

	_ = p.Stop()

	cmd := exec.Command(p.bin, "-nodisp", "-autoexit", "-hide_banner", path)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, &ports.PlaybackError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, &ports.PlaybackError{Err: err}
	}

	sub := &ffplaySub{
		events:  make(chan ports.PlaybackEvent, 2),
		cmd:     cmd,
		cleanup: cleanup,
		exited:  make(chan struct{}),
	}

	p.mu.Lock()
	p.cur = sub
	p.mu.Unlock()

	go sub.watch(bufio.NewScanner(stderr), p.log)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.exited:
		}
	}()
	return sub, nil
}

func (p *FFplayPlayback) Stop() error {
	p.mu.Lock()
	cur := p.cur
	p.cur = nil
	p.mu.Unlock()

	if cur == nil {
		return nil
	}
	return cur.Close()
}

func (p *FFplayPlayback) materialize(h *ports.AudioHandle) (string, func(), error) {
	noop := func() {}
	if path := h.Path(); path != "" {
		return path, noop, nil
	}

	data, err := h.Bytes()
	if err != nil {
		return "", noop, err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", noop, err
	}
	f, err := os.CreateTemp(p.dir, "reply-*."+h.Ext())
	if err != nil {
		return "", noop, err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(f.Name())
		return "", noop, err
	}
	name := f.Name()
	return name, func() { _ = os.Remove(name) }, nil
}

type ffplaySub struct {
	events  chan ports.PlaybackEvent
	cmd     *exec.Cmd
	cleanup func()
	exited  chan struct{}

	mu      sync.Mutex
	closed  bool
	stopped bool
}

func (s *ffplaySub) Events() <-chan ports.PlaybackEvent { return s.events }

// Close kills ffplay if it is still running and closes Events.
func (s *ffplaySub) Close() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	var err error
	select {
	case <-s.exited:
	default:
		if kerr := s.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	}
	s.finish()
	return err
}

func (s *ffplaySub) send(ev ports.PlaybackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopped {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *ffplaySub) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cleanup()
	close(s.events)
}

func (s *ffplaySub) watch(sc *bufio.Scanner, log *zap.SugaredLogger) {
	defer close(s.exited)

	sc.Split(scanStatusLines)
	started := false
	var tail bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		if !started && isStatusLine(line) {
			started = true
			s.send(ports.PlaybackEvent{Kind: ports.PlaybackStarted})
			continue
		}
		if !isStatusLine(line) {
			tail.Reset()
			tail.WriteString(line)
		}
	}

	err := s.cmd.Wait()
	if err != nil {
		log.Warnw("[playback] ffplay exited", "err", err, "stderr", tail.String())
		s.send(ports.PlaybackEvent{Kind: ports.PlaybackFailed, Err: &ports.PlaybackError{Err: fmt.Errorf("ffplay: %w", err)}})
	} else {
		s.send(ports.PlaybackEvent{Kind: ports.PlaybackEnded})
	}
	s.finish()
}

// isStatusLine matches ffplay's periodic progress line ("  1.23 M-A: ... aq= ...").
func isStatusLine(line string) bool {
	return strings.Contains(line, "aq=") || strings.Contains(line, "M-A:") || strings.Contains(line, "A-V:")
}

// scanStatusLines splits on '\n' and '\r'; ffplay redraws the status line with '\r'.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimSpace(data[:i]), nil
	}
	if atEOF {
		return len(data), bytes.TrimSpace(data), nil
	}
	return 0, nil, nil
}
