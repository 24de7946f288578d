// Package command handles the line-oriented control channel.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// ErrReboot is returned once a reboot into the bootloader was requested.
var ErrReboot = errors.New("reboot to bootloader requested")

// Commands understood by the handler.
const (
	Hello        = "hello"
	Quit         = "q"
	ElfToUF2Term = "elf2uf2-term"
)

// Reply to Hello.
const Greeting = "World!"

// Handler executes commands received on the control channel.
type Handler struct {
	logger *log.Logger
	reboot func()
}

// NewHandler returns a handler. reboot is called before ErrReboot is
// returned; it may be nil on hosts.
func NewHandler(logger *log.Logger, reboot func()) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{logger: logger, reboot: reboot}
}

// Handle executes one line. Unknown input is logged and ignored.
func (h *Handler) Handle(line string) error {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "":
		return nil
	case strings.EqualFold(cmd, Hello):
		h.logger.Println(Greeting)
		return nil
	case cmd == Quit || cmd == ElfToUF2Term:
		h.logger.Println("rebooting to bootloader")
		if h.reboot != nil {
			h.reboot()
		}
		return ErrReboot
	default:
		h.logger.Printf("received %q", cmd)
		return nil
	}
}

// Serve reads lines from r until EOF, a reboot command or ctx is done.
// Reaching EOF returns nil.
func (h *Handler) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.Handle(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("command channel: %w", err)
	}
	return nil
}

// LineBuffer assembles lines from single bytes for byte-oriented transports.
// Carriage returns and newlines both end a line; overlong lines are dropped.
type LineBuffer struct {
	buf      []byte
	overflow bool
}

// NewLineBuffer allocates a buffer for lines of up to size bytes.
func NewLineBuffer(size int) *LineBuffer {
	return &LineBuffer{buf: make([]byte, 0, size)}
}

// Feed adds one byte and returns a complete line when b terminates one.
func (l *LineBuffer) Feed(b byte) (string, bool) {
	if b == '\n' || b == '\r' {
		line, ok := string(l.buf), len(l.buf) > 0 && !l.overflow
		l.buf = l.buf[:0]
		l.overflow = false
		return line, ok
	}
	if len(l.buf) == cap(l.buf) {
		l.overflow = true
		return "", false
	}
	l.buf = append(l.buf, b)
	return "", false
}
