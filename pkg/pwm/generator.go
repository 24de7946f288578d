// Package pwm generates servo pulse trains.
//
// Generator runs the PIO PWM program on a state machine. Periph drives a
// hardware PWM pin on Linux hosts through periph.io.
package pwm

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/itohio/emgarm/pkg/pio"
)

// ErrBusy is returned when the TX FIFO does not drain in time.
var ErrBusy = errors.New("pwm fifo busy")

// Pulser is implemented by every pulse backend.
type Pulser interface {
	SetPeriod(d time.Duration) error
	Write(d time.Duration) error
	Start() error
	Stop() error
}

var (
	_ Pulser = (*Generator)(nil)
	_ Pulser = (*Periph)(nil)
)

// Generator is a PulseGenerator on one PIO state machine.
//
// Writes are asynchronous: the program picks up the newest queued level at
// the next period boundary, so a pulse in flight is never cut short.
type Generator struct {
	sm      pio.StateMachine
	clockHz uint32
	period  time.Duration
	level   time.Duration
	written bool

	yield   func()
	timeout time.Duration
}

// Option configures a Generator.
type Option func(*Generator)

// WithYield replaces the function called while waiting for the FIFO. The
// default is runtime.Gosched.
func WithYield(yield func()) Option {
	return func(g *Generator) {
		g.yield = yield
	}
}

// WithTimeout bounds how long a write waits for FIFO space.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		g.timeout = d
	}
}

// Attach loads the PWM program on sm with pin as its output and returns a
// stopped generator. clockHz is the state machine clock.
func Attach(sm pio.StateMachine, pin uint8, clockHz uint32, opts ...Option) (*Generator, error) {
	if clockHz < 3_000_000 {
		return nil, fmt.Errorf("pio clock %d Hz is too slow for microsecond pulses", clockHz)
	}
	if err := sm.Configure(pio.Config{Program: pio.PWM, Pin: pin}); err != nil {
		return nil, fmt.Errorf("failed to configure state machine: %w", err)
	}

	g := &Generator{
		sm:      sm,
		clockHz: clockHz,
		yield:   runtime.Gosched,
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ToCycles converts a duration to PWM counter steps: three clock cycles per
// step.
func (g *Generator) ToCycles(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	steps := uint64(g.clockHz) * uint64(d) / (pio.CyclesPerStep * uint64(time.Second))
	if steps > 0xffffffff {
		steps = 0xffffffff
	}
	return uint32(steps)
}

// Period returns the configured period.
func (g *Generator) Period() time.Duration {
	return g.period
}

// Level returns the last written high time.
func (g *Generator) Level() time.Duration {
	return g.level
}

// SetPeriod changes the period. Pending writes are drained first when the
// machine runs; a stopped machine keeps the last written level queued. The
// enable state is restored afterwards.
func (g *Generator) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("period must be positive, got %v", d)
	}

	enabled := g.sm.Enabled()
	if enabled {
		if err := g.wait(g.sm.TxEmpty); err != nil {
			return fmt.Errorf("set period: %w", err)
		}
	} else {
		g.sm.ClearTx()
	}

	g.sm.SetEnabled(false)
	g.sm.Put(g.ToCycles(d))
	g.sm.Exec(pio.Pull(false, false))
	g.sm.Exec(pio.Out(pio.DestISR, 32))
	g.period = d

	// A stopped machine had its queued level cleared above; queue it again so
	// the next period starts with it.
	if !enabled && g.written {
		g.sm.Put(g.ToCycles(g.level))
	}

	if enabled {
		g.sm.SetEnabled(true)
	}
	return nil
}

// Write queues a new high time for the next period. A stopped machine only
// keeps the latest write; a running one is waited on while its FIFO is full.
func (g *Generator) Write(d time.Duration) error {
	v := g.ToCycles(d)
	if !g.sm.Enabled() {
		g.sm.ClearTx()
		g.sm.Put(v)
		g.level, g.written = d, true
		return nil
	}

	if !g.sm.Put(v) {
		hasRoom := func() bool { return !g.sm.TxFull() }
		if err := g.wait(hasRoom); err != nil {
			return fmt.Errorf("write %v: %w", d, err)
		}
		g.sm.Put(v)
	}
	g.level, g.written = d, true
	return nil
}

// Start enables the waveform.
func (g *Generator) Start() error {
	if g.period == 0 {
		return errors.New("period not set")
	}
	g.sm.SetEnabled(true)
	return nil
}

// Stop disables the waveform, keeping period and level.
func (g *Generator) Stop() error {
	g.sm.SetEnabled(false)
	return nil
}

func (g *Generator) wait(ready func() bool) error {
	deadline := time.Now().Add(g.timeout)
	for !ready() {
		if time.Now().After(deadline) {
			return ErrBusy
		}
		g.yield()
	}
	return nil
}
