package command

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler() (*Handler, *bytes.Buffer, *int) {
	var logs bytes.Buffer
	reboots := 0
	h := NewHandler(log.New(&logs, "", 0), func() { reboots++ })
	return h, &logs, &reboots
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
		wantLog string
		reboots int
	}{
		{"hello", "hello", nil, "World!", 0},
		{"hello any case", "HeLLo\r", nil, "World!", 0},
		{"quit", "q", ErrReboot, "rebooting to bootloader", 1},
		{"elf2uf2 terminal", "elf2uf2-term", ErrReboot, "rebooting to bootloader", 1},
		{"quit is case sensitive", "Q", nil, `received "Q"`, 0},
		{"unknown", "flex please", nil, `received "flex please"`, 0},
		{"blank", "   ", nil, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, logs, reboots := newHandler()
			err := h.Handle(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantLog == "" {
				assert.Empty(t, logs.String())
			} else {
				assert.Contains(t, logs.String(), tt.wantLog)
			}
			assert.Equal(t, tt.reboots, *reboots)
		})
	}
}

func TestHandle_NilRebootHook(t *testing.T) {
	h := NewHandler(log.New(&bytes.Buffer{}, "", 0), nil)
	assert.ErrorIs(t, h.Handle("q"), ErrReboot)
}

func TestServe(t *testing.T) {
	h, logs, reboots := newHandler()

	err := h.Serve(context.Background(), strings.NewReader("hello\nping\nq\nhello\n"))
	assert.ErrorIs(t, err, ErrReboot)
	assert.Equal(t, 1, *reboots)
	assert.Equal(t, 1, strings.Count(logs.String(), "World!"), "lines after the reboot are not handled")
	assert.Contains(t, logs.String(), `received "ping"`)
}

func TestServe_EOF(t *testing.T) {
	h, _, _ := newHandler()
	assert.NoError(t, h.Serve(context.Background(), strings.NewReader("hello\n")))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("usb detached") }

func TestServe_ReadError(t *testing.T) {
	h, _, _ := newHandler()
	assert.ErrorContains(t, h.Serve(context.Background(), failingReader{}), "usb detached")
}

func TestServe_Cancelled(t *testing.T) {
	h, _, reboots := newHandler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Serve(ctx, strings.NewReader("q\n")), context.Canceled)
	assert.Zero(t, *reboots)
}

func TestLineBuffer(t *testing.T) {
	lb := NewLineBuffer(8)

	var lines []string
	for _, b := range []byte("hello\r\nq\n\ntoolongline\nok\n") {
		if line, ok := lb.Feed(b); ok {
			lines = append(lines, line)
		}
	}
	require.Equal(t, []string{"hello", "q", "ok"}, lines)
}
