package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the USB CDC baud rate of the controller.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the frames channel.
	DefaultBufferSize = 100
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Link is a serial connection to the controller. It streams the diagnostic
// frames found in the controller log and sends control commands.
type Link struct {
	port     string
	baudRate int
	bufSize  int
	length   int
	logger   *log.Logger

	conn      io.ReadWriteCloser
	frames    chan []float64
	done      chan struct{}
	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool
}

// New creates a link for the given port. length is the expected feature
// vector length; zero accepts any. Zero baud rate and buffer size select the
// defaults.
func New(port string, baudRate, bufSize, length int, logger *log.Logger) *Link {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Link{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		length:   length,
		logger:   logger,
		frames:   make(chan []float64, bufSize),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading frames.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return errors.New("already connected")
	}
	if l.done != nil {
		return errors.New("link was closed")
	}

	port, err := serial.Open(l.port, &serial.Mode{BaudRate: l.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", l.port, err)
	}
	l.attach(port)
	return nil
}

// attach starts reading from an open connection. Callers hold mu.
func (l *Link) attach(conn io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(context.Background())
	l.conn = conn
	l.cancel = cancel
	l.done = make(chan struct{})
	l.connected = true

	go l.readFrames(ctx)
}

// Close closes the port and waits for the reader to stop. The frames channel
// is closed afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	l.cancel()
	err := l.conn.Close()
	l.connected = false
	done := l.done
	l.mu.Unlock()

	<-done
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Frames returns the channel of received frames.
func (l *Link) Frames() <-chan []float64 {
	return l.frames
}

// Send writes one command line to the controller.
func (l *Link) Send(cmd string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.connected {
		return errors.New("not connected")
	}
	line := strings.TrimRight(cmd, "\r\n") + "\n"
	if _, err := io.WriteString(l.conn, line); err != nil {
		return fmt.Errorf("failed to send command %q: %w", cmd, err)
	}
	return nil
}

// IsConnected returns whether the link is currently connected.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Link) readFrames(ctx context.Context) {
	defer close(l.done)
	defer close(l.frames)

	parser := NewFrameParser(l.length, l.logger)
	scanner := bufio.NewScanner(l.conn)
	for scanner.Scan() {
		frame, ok := parser.Feed(scanner.Text())
		if !ok {
			continue
		}

		select {
		case l.frames <- frame:
		case <-ctx.Done():
			return
		default:
			l.logger.Printf("frames channel full, dropping frame")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		l.logger.Printf("error reading from serial port: %v", err)
	}
}
