// Package capture records feature vectors for offline training.
//
// The controller dumps every normalised feature vector to its log as a frame:
//
//	NewData
//	0.25
//	...
//	EndData
//
// one value per line. The host reads the frames back from the serial log and
// writes labelled CSV datasets.
package capture

import (
	"io"
	"log"
	"strconv"
	"strings"
)

// Frame delimiters.
const (
	FrameStart = "NewData"
	FrameEnd   = "EndData"
)

// FrameWriter writes feature frames.
type FrameWriter struct {
	w   io.Writer
	buf []byte
}

// NewFrameWriter returns a writer on w. Each frame is written with one call
// to w.Write so concurrent log output cannot split it.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write writes one frame. Values are printed as the shortest decimal that
// round-trips through float32, without an exponent.
func (f *FrameWriter) Write(values []float64) error {
	f.buf = AppendFrame(f.buf[:0], values)
	_, err := f.w.Write(f.buf)
	return err
}

// AppendFrame appends the text of one frame to dst.
func AppendFrame(dst []byte, values []float64) []byte {
	dst = append(dst, FrameStart...)
	dst = append(dst, '\n')
	for _, v := range values {
		dst = strconv.AppendFloat(dst, v, 'f', -1, 32)
		dst = append(dst, '\n')
	}
	dst = append(dst, FrameEnd...)
	return append(dst, '\n')
}

// FrameParser reassembles frames from log lines. Lines outside a frame are
// ignored. Each line contributes only its last whitespace separated field,
// so logger prefixes such as timestamps are tolerated.
type FrameParser struct {
	length int
	logger *log.Logger

	values  []float64
	inFrame bool
}

// NewFrameParser returns a parser. A positive length discards frames of any
// other size.
func NewFrameParser(length int, logger *log.Logger) *FrameParser {
	if logger == nil {
		logger = log.Default()
	}
	return &FrameParser{length: length, logger: logger}
}

// Feed consumes one line and returns a frame when the line completes one.
// The returned slice is owned by the caller.
func (p *FrameParser) Feed(line string) ([]float64, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	field := fields[len(fields)-1]

	switch field {
	case FrameStart:
		if p.inFrame {
			p.logger.Printf("discarding unterminated frame with %d values", len(p.values))
		}
		p.inFrame = true
		p.values = p.values[:0]
		return nil, false
	case FrameEnd:
		if !p.inFrame {
			return nil, false
		}
		p.inFrame = false
		if p.length > 0 && len(p.values) != p.length {
			p.logger.Printf("discarding frame with %d values, want %d", len(p.values), p.length)
			return nil, false
		}
		out := make([]float64, len(p.values))
		copy(out, p.values)
		return out, true
	}

	if !p.inFrame {
		return nil, false
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		p.logger.Printf("discarding frame: %v", err)
		p.inFrame = false
		return nil, false
	}
	p.values = append(p.values, v)
	return nil, false
}
