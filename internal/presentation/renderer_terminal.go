package presentation

import (
	"fmt"
	"io"
	"sync"
)

// TerminalRenderer перерисовывает одну строку статуса.
type TerminalRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

func (r *TerminalRenderer) Render(v View) {
	line := StatusLine(v)

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintf(r.w, "\r\033[2K%s", line)
}

func StatusLine(v View) string {
	switch {
	case v.Error != "":
		return "✖ " + v.Error
	case v.Listening:
		return "● слушаю… (Enter: стоп)"
	case v.Loading:
		return "… думаю"
	case v.Subtitle != "":
		return "» " + v.Subtitle
	}
	return "○ Enter: говорить"
}
