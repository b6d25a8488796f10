package delivery

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/Vovarama1992/go-utils/logger"
)

var ErrQuit = errors.New("quit requested")

// Console управляет ходом с клавиатуры. Enter переключает запись,
// "c" отменяет ход, "q" завершает программу.
type Console struct {
	ctrl TurnControl
	in   io.Reader
	log  *logger.ZapLogger
}

func NewConsole(ctrl TurnControl, in io.Reader, log *logger.ZapLogger) *Console {
	return &Console{ctrl: ctrl, in: in, log: log}
}

// Run returns ErrQuit on "q", nil on EOF, ctx.Err() on cancellation.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errc:
			if err != nil {
				c.log.Log(logger.LogEntry{Level: "warn", Message: "console input failed", Error: err, Service: "console"})
			}
			return err

		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				c.ctrl.Toggle()
			case "c", "cancel":
				c.ctrl.Cancel()
			case "q", "quit", "exit":
				return ErrQuit
			}
		}
	}
}
