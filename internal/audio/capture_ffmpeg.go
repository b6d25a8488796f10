package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultStartupGrace = 200 * time.Millisecond
	stopTimeout         = 5 * time.Second
)

// FFmpegCapture пишет микрофон дочерним процессом ffmpeg во временный файл.
// Одновременно активна не больше одной записи.
type FFmpegCapture struct {
	bin  string
	dir  string
	goos string
	opts ports.CaptureOptions
	log  *zap.SugaredLogger

	// StartupGrace: сколько ждать раннего падения ffmpeg (нет прав, занято).
	StartupGrace time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	path   string
	done   chan error
}

func NewFFmpegCapture(bin, dir string, opts ports.CaptureOptions, log *zap.SugaredLogger) *FFmpegCapture {
	if bin == "" {
		bin = "ffmpeg"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &FFmpegCapture{
		bin:          bin,
		dir:          dir,
		goos:         runtime.GOOS,
		opts:         opts,
		log:          log,
		StartupGrace: defaultStartupGrace,
	}
}

func (c *FFmpegCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return &ports.CaptureError{Op: "start", Err: ports.ErrDeviceBusy}
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return &ports.CaptureError{Op: "start", Err: err}
	}

	container := containerOf(c.opts)
	path := filepath.Join(c.dir, "rec-"+uuid.NewString()+"."+container)

	cmd := exec.Command(c.bin, BuildCaptureArgs(c.goos, c.opts, path)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ports.CaptureError{Op: "start", Err: err}
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return &ports.CaptureError{Op: "start", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// ffmpeg без доступа к микрофону падает сразу
	select {
	case err := <-done:
		_ = os.Remove(path)
		return &ports.CaptureError{Op: "start", Err: classifyStderr(stderr.String(), err)}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = os.Remove(path)
		return &ports.CaptureError{Op: "start", Err: ctx.Err()}
	case <-time.After(c.StartupGrace):
	}

	c.cmd, c.stdin, c.stderr, c.path, c.done = cmd, stdin, stderr, path, done
	c.log.Infow("[capture] started", "path", path, "pid", cmd.Process.Pid)
	return nil
}

func (c *FFmpegCapture) Stop(ctx context.Context) (*ports.AudioHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil, &ports.CaptureError{Op: "stop", Err: ports.ErrNotCapturing}
	}
	cmd, stdin, stderr, path, done := c.cmd, c.stdin, c.stderr, c.path, c.done
	c.cmd, c.stdin, c.stderr, c.path, c.done = nil, nil, nil, "", nil

	// "q": штатное завершение ffmpeg с дописыванием контейнера
	_, _ = io.WriteString(stdin, "q")
	_ = stdin.Close()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = os.Remove(path)
		return nil, &ports.CaptureError{Op: "stop", Err: ctx.Err()}
	case <-time.After(stopTimeout):
		_ = cmd.Process.Kill()
		waitErr = <-done
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(path)
		cause := ports.ErrEmptyRecording
		if waitErr != nil {
			cause = fmt.Errorf("%w: %w", ports.ErrEmptyRecording, classifyStderr(stderr.String(), waitErr))
		}
		return nil, &ports.CaptureError{Op: "stop", Err: cause}
	}
	if waitErr != nil {
		c.log.Warnw("[capture] ffmpeg exited with error, keeping file", "err", waitErr)
	}

	c.log.Infow("[capture] stopped", "path", path, "size", humanize.Bytes(uint64(info.Size())))

	release := func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return ports.NewAudioHandle(path, nil, mimeOf(containerOf(c.opts)), release), nil
}

func classifyStderr(stderr string, err error) error {
	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "permission denied"),
		strings.Contains(low, "not authorized"),
		strings.Contains(low, "access denied"):
		return ports.ErrNoPermission
	case strings.Contains(low, "device or resource busy"),
		strings.Contains(low, "device busy"):
		return ports.ErrDeviceBusy
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("%w: %s", err, lastLine(msg))
	}
	return err
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
